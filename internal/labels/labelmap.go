package labels

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ErrLabelMapRequired is returned by Load for a known dataset whose table is
// too large to embed. Pass its label map file to Resolve instead.
var ErrLabelMapRequired = errors.New("dataset needs a label map file")

// fileOnly lists selectors recognised without a built-in table. Open Images
// has 600 boxable classes and ships as oid_bbox_trainable_label_map.pbtxt.
var fileOnly = map[string]bool{
	"oid": true,
}

// labelMapDescriptor is the subset of object_detection.protos.StringIntLabelMap
// that label map files use. Other item fields are discarded when parsing.
var labelMapDescriptor = mustLabelMapDescriptor()

func mustLabelMapDescriptor() protoreflect.MessageDescriptor {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("object_detection/protos/string_int_label_map.proto"),
		Package: proto.String("object_detection.protos"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("StringIntLabelMapItem"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("name"), Number: proto.Int32(1), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
					{Name: proto.String("id"), Number: proto.Int32(2), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum()},
					{Name: proto.String("display_name"), Number: proto.Int32(3), Label: optional, Type: descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum()},
				},
			},
			{
				Name: proto.String("StringIntLabelMap"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     proto.String("item"),
						Number:   proto.Int32(1),
						Label:    repeated,
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(".object_detection.protos.StringIntLabelMapItem"),
					},
				},
			},
		},
	}

	file, err := protodesc.NewFile(fd, nil)
	if err != nil {
		panic(fmt.Sprintf("labels: build label map descriptor: %v", err))
	}
	return file.Messages().ByName("StringIntLabelMap")
}

// ParseLabelMap decodes a protobuf text label map. Each item's display_name
// is used as the label, falling back to name.
func ParseLabelMap(dataset string, data []byte) (*Table, error) {
	msg := dynamicpb.NewMessage(labelMapDescriptor)
	if err := (prototext.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("parse label map %q: %w", dataset, err)
	}

	itemField := labelMapDescriptor.Fields().ByName("item")
	itemDesc := itemField.Message()
	nameField := itemDesc.Fields().ByName("name")
	idField := itemDesc.Fields().ByName("id")
	displayField := itemDesc.Fields().ByName("display_name")

	items := msg.Get(itemField).List()
	m := make(map[int]string, items.Len())
	for i := 0; i < items.Len(); i++ {
		item := items.Get(i).Message()
		if !item.Has(idField) {
			return nil, fmt.Errorf("label map %q: item %d has no id", dataset, i)
		}
		id := int(item.Get(idField).Int())
		label := item.Get(displayField).String()
		if label == "" {
			label = item.Get(nameField).String()
		}
		if _, dup := m[id]; dup {
			return nil, fmt.Errorf("label map %q: duplicate class id %d", dataset, id)
		}
		m[id] = label
	}
	return New(dataset, m)
}

// LoadFile reads a label map file for dataset.
func LoadFile(dataset, path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label map: %w", err)
	}
	return ParseLabelMap(strings.ToLower(strings.TrimSpace(dataset)), data)
}

// Resolve loads the table for dataset from labelMap when it is set, and from
// the built-in tables otherwise.
func Resolve(dataset, labelMap string) (*Table, error) {
	if labelMap != "" {
		return LoadFile(dataset, labelMap)
	}
	return Load(dataset)
}
