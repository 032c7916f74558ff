package grpccodec

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestRaw_MarshalBytes(t *testing.T) {
	b, err := Raw{}.Marshal([]byte("hello"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "hello" {
		t.Errorf("expected hello, got %q", b)
	}
}

func TestRaw_MarshalProtoMessage(t *testing.T) {
	b, err := Raw{}.Marshal(&emptypb.Empty{})
	if err != nil {
		t.Fatalf("marshal empty: %v", err)
	}
	if len(b) != 0 {
		t.Errorf("expected empty encoding, got %x", b)
	}

	msg := wrapperspb.String("abc")
	b, err = Raw{}.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal string: %v", err)
	}
	want, _ := proto.Marshal(msg)
	if !bytes.Equal(b, want) {
		t.Errorf("expected %x, got %x", want, b)
	}
}

func TestRaw_MarshalRejectsOtherTypes(t *testing.T) {
	if _, err := (Raw{}).Marshal("not bytes"); err == nil {
		t.Fatal("expected error for string payload")
	}
}

func TestRaw_UnmarshalCopies(t *testing.T) {
	src := []byte("payload")
	var dst []byte
	if err := (Raw{}).Unmarshal(src, &dst); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	src[0] = 'X'
	if string(dst) != "payload" {
		t.Errorf("expected decoded bytes to be independent of the buffer, got %q", dst)
	}

	var wrong string
	if err := (Raw{}).Unmarshal(src, &wrong); err == nil {
		t.Fatal("expected error for non-*[]byte target")
	}
}

func TestNames(t *testing.T) {
	if (Raw{}).Name() != "raw" {
		t.Errorf("unexpected raw name %q", Raw{}.Name())
	}
	if (Proto{}).Name() != "proto" {
		t.Errorf("unexpected proto name %q", Proto{}.Name())
	}
}
