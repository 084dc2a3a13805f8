package labels

// Built-in label maps, keyed by the dataset selector used in the config.
// Ids follow the TensorFlow object detection label maps, so they have gaps.
var datasets = map[string]map[int]string{
	"voc":   vocLabels,
	"coco":  cocoLabels,
	"kitti": kittiLabels,
	"pet":   petLabels,
}

var vocLabels = map[int]string{
	1: "aeroplane", 2: "bicycle", 3: "bird", 4: "boat", 5: "bottle",
	6: "bus", 7: "car", 8: "cat", 9: "chair", 10: "cow",
	11: "diningtable", 12: "dog", 13: "horse", 14: "motorbike", 15: "person",
	16: "pottedplant", 17: "sheep", 18: "sofa", 19: "train", 20: "tvmonitor",
}

var cocoLabels = map[int]string{
	1: "person", 2: "bicycle", 3: "car", 4: "motorcycle", 5: "airplane",
	6: "bus", 7: "train", 8: "truck", 9: "boat", 10: "traffic light",
	11: "fire hydrant", 13: "stop sign", 14: "parking meter", 15: "bench",
	16: "bird", 17: "cat", 18: "dog", 19: "horse", 20: "sheep",
	21: "cow", 22: "elephant", 23: "bear", 24: "zebra", 25: "giraffe",
	27: "backpack", 28: "umbrella", 31: "handbag", 32: "tie", 33: "suitcase",
	34: "frisbee", 35: "skis", 36: "snowboard", 37: "sports ball", 38: "kite",
	39: "baseball bat", 40: "baseball glove", 41: "skateboard", 42: "surfboard",
	43: "tennis racket", 44: "bottle", 46: "wine glass", 47: "cup", 48: "fork",
	49: "knife", 50: "spoon", 51: "bowl", 52: "banana", 53: "apple",
	54: "sandwich", 55: "orange", 56: "broccoli", 57: "carrot", 58: "hot dog",
	59: "pizza", 60: "donut", 61: "cake", 62: "chair", 63: "couch",
	64: "potted plant", 65: "bed", 67: "dining table", 70: "toilet", 72: "tv",
	73: "laptop", 74: "mouse", 75: "remote", 76: "keyboard", 77: "cell phone",
	78: "microwave", 79: "oven", 80: "toaster", 81: "sink", 82: "refrigerator",
	84: "book", 85: "clock", 86: "vase", 87: "scissors", 88: "teddy bear",
	89: "hair drier", 90: "toothbrush",
}

var kittiLabels = map[int]string{
	1: "car",
	2: "pedestrian",
}

var petLabels = map[int]string{
	1: "Abyssinian", 2: "american_bulldog", 3: "american_pit_bull_terrier",
	4: "basset_hound", 5: "beagle", 6: "Bengal", 7: "Birman", 8: "Bombay",
	9: "boxer", 10: "British_Shorthair", 11: "chihuahua", 12: "Egyptian_Mau",
	13: "english_cocker_spaniel", 14: "english_setter", 15: "german_shorthaired",
	16: "great_pyrenees", 17: "havanese", 18: "japanese_chin", 19: "keeshond",
	20: "leonberger", 21: "Maine_Coon", 22: "miniature_pinscher",
	23: "newfoundland", 24: "Persian", 25: "pomeranian", 26: "pug",
	27: "Ragdoll", 28: "Russian_Blue", 29: "saint_bernard", 30: "samoyed",
	31: "scottish_terrier", 32: "shiba_inu", 33: "Siamese", 34: "Sphynx",
	35: "staffordshire_bull_terrier", 36: "wheaten_terrier",
	37: "yorkshire_terrier",
}
