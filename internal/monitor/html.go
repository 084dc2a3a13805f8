package monitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Object Tracker Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        img { width: 100%; height: auto; background: #000; }
        button { margin-right: 8px; padding: 6px 12px; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { padding: 4px; border-bottom: 1px solid #333; text-align: left; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #444; }
        .on { background: #2e7d32; }
    </style>
</head>
<body>
    <div class="app">
        <div class="panel">
            <h2>Live Feed <span class="badge" id="state-badge">...</span></h2>
            <img id="stream" src="/stream" alt="Processed frames">
        </div>
        <div class="panel">
            <h2>Controls</h2>
            <button id="btn-toggle">Play / Stop</button>
            <button id="btn-logger">Toggle logging</button>
            <button id="btn-finalize">Write log</button>
            <p><input type="file" id="upload" accept="image/*"> <button id="btn-detect">Detect once</button></p>
            <h2>Status</h2>
            <p>Observed FPS: <span id="fps">0</span> / target <span id="target">0</span></p>
            <p>Cycles: <span id="cycles">0</span>, frames: <span id="frames">0</span></p>
            <p>Logging: <span id="logging">off</span> <span id="log-result"></span></p>
            <h2>Latest detections</h2>
            <table>
                <thead><tr><th>Label</th><th>Score</th><th>Box</th></tr></thead>
                <tbody id="detections"></tbody>
            </table>
        </div>
    </div>
    <script>
        async function post(url, body) {
            const res = await fetch(url, { method: 'POST', body });
            return res.json();
        }

        function renderDetections(dets) {
            const rows = (dets || []).map(d =>
                '<tr><td>' + d.class_name + '</td><td>' + (d.confidence * 100).toFixed(0) + ' %</td><td>' +
                d.bbox.x + ',' + d.bbox.y + ' ' + d.bbox.w + 'x' + d.bbox.h + '</td></tr>');
            document.getElementById('detections').innerHTML = rows.join('');
        }

        async function refresh() {
            try {
                const s = await (await fetch('/api/status')).json();
                const m = s.monitor;
                document.getElementById('fps').textContent = m.current_fps.toFixed(2);
                document.getElementById('target').textContent = m.target_fps.toFixed(2);
                document.getElementById('cycles').textContent = m.cycles;
                document.getElementById('frames').textContent = m.frames_processed;
                document.getElementById('logging').textContent = m.logger_enabled ? 'on' : 'off';
                const badge = document.getElementById('state-badge');
                badge.textContent = m.enabled ? 'running' : 'stopped';
                badge.className = 'badge' + (m.enabled ? ' on' : '');
                if (s.latest_detection) renderDetections(s.latest_detection.detections);
            } catch (e) {
                console.warn('status refresh failed', e);
            }
        }

        document.getElementById('btn-toggle').onclick = () => post('/api/toggle').then(refresh);
        document.getElementById('btn-logger').onclick = async () => {
            const s = await (await fetch('/api/status')).json();
            await post('/api/log/status', JSON.stringify({ enabled: !s.monitor.logger_enabled }));
            refresh();
        };
        document.getElementById('btn-finalize').onclick = async () => {
            const r = await post('/api/log/finalize');
            document.getElementById('log-result').textContent = '(' + r.status + ')';
        };
        document.getElementById('btn-detect').onclick = async () => {
            const file = document.getElementById('upload').files[0];
            if (!file) return;
            const form = new FormData();
            form.append('image', file);
            const r = await post('/api/detect', form);
            if (r.detections) renderDetections(r.detections);
        };

        setInterval(refresh, 1000);
        refresh();
    </script>
</body>
</html>
`
