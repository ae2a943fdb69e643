package wire

import (
	"encoding/json"
	"testing"
)

func TestOKMergesDataFields(t *testing.T) {
	raw, err := OK(map[string]any{"stackList": []string{"web", "db"}})
	if err != nil {
		t.Fatalf("OK: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["ok"] != true {
		t.Fatalf("ok = %v, want true", decoded["ok"])
	}
	list, ok := decoded["stackList"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("stackList = %v, want a 2-element list", decoded["stackList"])
	}
}

func TestOKNilData(t *testing.T) {
	raw, err := OK(nil)
	if err != nil {
		t.Fatalf("OK: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 1 || decoded["ok"] != true {
		t.Fatalf("decoded = %v, want only {ok:true}", decoded)
	}
}

func TestOKRejectsNonObjectData(t *testing.T) {
	if _, err := OK([]string{"not", "an", "object"}); err == nil {
		t.Fatal("expected an error for non-object data")
	}
}

func TestFailShape(t *testing.T) {
	raw := Fail("stack not found")
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["ok"] != false {
		t.Fatalf("ok = %v, want false", decoded["ok"])
	}
	if decoded["msg"] != "stack not found" {
		t.Fatalf("msg = %v, want %q", decoded["msg"], "stack not found")
	}
}

func TestClientMessageDecodesAckID(t *testing.T) {
	var msg ClientMessage
	body := `{"event":"deployStack","args":[{"stackName":"web"}],"ackId":42}`
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Event != "deployStack" {
		t.Fatalf("Event = %q, want deployStack", msg.Event)
	}
	if msg.AckID == nil || *msg.AckID != 42 {
		t.Fatalf("AckID = %v, want 42", msg.AckID)
	}
	if len(msg.Args) != 1 {
		t.Fatalf("Args = %v, want one element", msg.Args)
	}
}

func TestClientMessageWithoutAckIDDecodesNilPointer(t *testing.T) {
	var msg ClientMessage
	body := `{"event":"terminalInput","args":["abc"]}`
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.AckID != nil {
		t.Fatalf("AckID = %v, want nil", msg.AckID)
	}
}

func TestServerMessageOmitsAckIDForPush(t *testing.T) {
	raw, err := json.Marshal(ServerMessage{Event: "stackList", Args: []json.RawMessage{json.RawMessage(`{"stackList":[]}`)}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["ackId"]; present {
		t.Fatalf("expected ackId to be omitted, got %v", decoded)
	}
}
