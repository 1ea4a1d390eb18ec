// The configuration schema is a protobuf message built at start-up instead of generated code. Messages only group
// settings; every scalar leaf field is named exactly after the command line flag it sets. A config file in .txtpb
// format looks like:
//
//	logging { log_level: "debug" }
//	list { list_max_nodes: 1000 }
//	server { address: ":6390" idle_close { seconds: 30 } }

package config

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	configPackage   = "dlist.config"
	durationMessage = "google.protobuf.Duration"
)

var (
	schemaOnce sync.Once
	schemaDesc protoreflect.MessageDescriptor
	schemaErr  error
)

func scalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
}

func messageField(name string, number int32, fullName string) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	field.TypeName = proto.String("." + fullName)
	return field
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// configFileProto describes the dlist configuration file.
func configFileProto() *descriptorpb.FileDescriptorProto {
	const (
		typeString = descriptorpb.FieldDescriptorProto_TYPE_STRING
		typeInt64  = descriptorpb.FieldDescriptorProto_TYPE_INT64
		typeUint64 = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		typeDouble = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	)
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("dlist/config.proto"),
		Package:    proto.String(configPackage),
		Syntax:     proto.String("proto2"),
		Dependency: []string{durationpb.File_google_protobuf_duration_proto.Path()},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Config",
				messageField("logging", 1, configPackage+".Logging"),
				messageField("list", 2, configPackage+".List"),
				messageField("server", 3, configPackage+".Server"),
			),
			message("Logging",
				scalarField("log_handler_type", 1, typeString),
				scalarField("log_level", 2, typeString),
			),
			message("List",
				scalarField("list_max_nodes", 1, typeInt64),
				scalarField("list_bloom_capacity", 2, typeUint64),
				scalarField("list_bloom_false_positive_rate", 3, typeDouble),
			),
			message("Server",
				scalarField("address", 1, typeString),
				messageField("idle_close", 2, durationMessage),
				scalarField("admin_address", 3, typeString),
				scalarField("list_shard_count", 4, typeInt64),
			),
		},
	}
}

// configDescriptor returns the descriptor of the top-level Config message.
func configDescriptor() (protoreflect.MessageDescriptor, error) {
	schemaOnce.Do(func() {
		file, err := protodesc.NewFile(configFileProto(), protoregistry.GlobalFiles)
		if err != nil {
			schemaErr = fmt.Errorf("failed to build config schema: %w", err)
			return
		}
		schemaDesc = file.Messages().ByName("Config")
	})
	return schemaDesc, schemaErr
}

// isLeaf reports whether the field maps to a flag rather than grouping other fields.
func isLeaf(fd protoreflect.FieldDescriptor) bool {
	return fd.Kind() != protoreflect.MessageKind || string(fd.Message().FullName()) == durationMessage
}
