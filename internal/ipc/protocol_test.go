package ipc

import (
	"encoding/json"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	data, err := json.Marshal(SeekRequest{Position: 12.5})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	req := &Request{Cmd: CmdSeek, Data: data}

	encoded, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	decoded, err := DecodeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if decoded.Cmd != CmdSeek {
		t.Errorf("Expected cmd %s, got %s", CmdSeek, decoded.Cmd)
	}

	var seekReq SeekRequest
	if err := json.Unmarshal(decoded.Data, &seekReq); err != nil {
		t.Fatalf("Unmarshal data failed: %v", err)
	}
	if seekReq.Position != 12.5 {
		t.Errorf("Expected position 12.5, got %v", seekReq.Position)
	}
}

func TestDecodeRequestInvalidJSON(t *testing.T) {
	if _, err := DecodeRequest([]byte("{not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestErrorResponse(t *testing.T) {
	resp := NewErrorResponse("no song loaded")

	encoded, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}
	decoded, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if decoded.Success {
		t.Error("Error response should not be successful")
	}
	if decoded.Error != "no song loaded" {
		t.Errorf("Expected error message, got %q", decoded.Error)
	}
}

func TestSuccessResponseWithData(t *testing.T) {
	resp, err := NewSuccessResponse(SpeedResponse{Speed: 0.75})
	if err != nil {
		t.Fatalf("NewSuccessResponse failed: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success")
	}

	var speedResp SpeedResponse
	if err := json.Unmarshal(resp.Data, &speedResp); err != nil {
		t.Fatalf("Unmarshal data failed: %v", err)
	}
	if speedResp.Speed != 0.75 {
		t.Errorf("Expected speed 0.75, got %v", speedResp.Speed)
	}
}

func TestPushMessage(t *testing.T) {
	raw, err := NewPushMessage(PushJudgment, JudgmentEvent{
		Index: 3, Pitch: 64, Time: 5.4, Result: "good", Delta: 0.08,
	})
	if err != nil {
		t.Fatalf("NewPushMessage failed: %v", err)
	}

	var msg PushMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != PushJudgment {
		t.Errorf("Expected type %s, got %s", PushJudgment, msg.Type)
	}

	var ev JudgmentEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("Unmarshal data failed: %v", err)
	}
	if ev.Pitch != 64 || ev.Result != "good" {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestLoadRequestForms(t *testing.T) {
	// SMF form
	raw := []byte(`{"path":"/songs/etude.mid","audioPath":"/songs/etude.mp3"}`)
	var req LoadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if req.Path != "/songs/etude.mid" || req.AudioPath != "/songs/etude.mp3" {
		t.Errorf("Unexpected load request: %+v", req)
	}

	// Inline-notes form
	raw = []byte(`{"id":"scale","duration":8,"notes":[{"pitch":60,"time":1,"duration":0.5}]}`)
	req = LoadRequest{}
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if req.ID != "scale" || len(req.Notes) != 1 || req.Notes[0].Pitch != 60 {
		t.Errorf("Unexpected load request: %+v", req)
	}
}
