package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/marimo-team/kernelclient/internal/model"
)

func TestDecodeCellOp(t *testing.T) {
	raw := []byte(`{
		"op": "cell-op",
		"data": {
			"cell_id": "c1",
			"run_id": "r1",
			"status": "running",
			"console": [{"channel": "stdout", "mimetype": "text/plain", "data": "\"hi\"", "timestamp": 1}],
			"timestamp": 2
		}
	}`)
	op, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cellOp, ok := op.(*CellOp)
	if !ok {
		t.Fatalf("decoded %T, want *CellOp", op)
	}
	want := &CellOp{
		CellID: "c1",
		RunID:  "r1",
		Status: model.RunStatusRunning,
		Console: []model.CellOutput{{
			Channel:   model.ChannelStdout,
			Mimetype:  "text/plain",
			Data:      json.RawMessage(`"hi"`),
			Timestamp: 1,
		}},
		Timestamp: 2,
	}
	if diff := cmp.Diff(want, cellOp); diff != "" {
		t.Fatalf("cell op mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeEveryTag(t *testing.T) {
	tags := []Tag{
		TagKernelReady, TagReload, TagCompletedRun, TagInterrupted,
		TagKernelStartupError, TagCellOp, TagVariables, TagVariableValues,
		TagDatasets, TagDataColumnPreview, TagDataSourceConnections,
		TagCompletionResult, TagFunctionCallResult, TagSQLTablePreviewResult,
		TagSecretKeysResult, TagAlert, TagBanner, TagMissingPackageAlert,
		TagInstallingPackageAlert, TagStartupLogs, TagQueryParamsAppend,
		TagQueryParamsSet, TagQueryParamsDelete, TagQueryParamsClear,
		TagUpdateCellCodes, TagUpdateCellIDs, TagRemoveUIElements,
		TagFocusCell, TagSendUIElementMessage,
	}
	for _, tag := range tags {
		t.Run(string(tag), func(t *testing.T) {
			frame, err := json.Marshal(Envelope{Op: tag})
			if err != nil {
				t.Fatalf("marshal frame: %v", err)
			}
			op, err := Decode(frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if op.Tag() != tag {
				t.Fatalf("decoded tag %s, want %s", op.Tag(), tag)
			}
		})
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte(`{"op": "not-a-real-op", "data": {}}`))
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("err = %v, want ErrUnknownOperation", err)
	}
}

func TestDecodeInvalidFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrInvalidFrame},
		{"not json", []byte("hello"), ErrInvalidFrame},
		{"missing op", []byte(`{"data": {}}`), ErrInvalidFrame},
		{"too large", bytes.Repeat([]byte("x"), DefaultMaxFrame+1), ErrFrameTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.raw)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeToleratesRawRecordSeparator(t *testing.T) {
	frame := []byte(`{"op": "banner", "data": {"title": "a`)
	frame = append(frame, recordSeparator)
	frame = append(frame, []byte(`b", "description": "d"}}`)...)

	op, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	banner, ok := op.(*Banner)
	if !ok {
		t.Fatalf("decoded %T, want *Banner", op)
	}
	want := "a\x1eb"
	if banner.Title != want {
		t.Fatalf("title = %q, want %q", banner.Title, want)
	}
	if banner.Description != "d" {
		t.Fatalf("description = %q, want %q", banner.Description, "d")
	}
}

func TestEscapeRecordSeparatorsIgnoresStructuralBytes(t *testing.T) {
	// A separator outside string literals is left alone so the frame still
	// fails JSON parsing instead of being silently repaired.
	raw := append([]byte(`{"op": "reload"`), recordSeparator)
	raw = append(raw, '}')
	out := escapeRecordSeparators(raw)
	if !bytes.Contains(out, []byte{recordSeparator}) {
		t.Fatalf("structural separator was escaped: %q", out)
	}
}

func TestEscapeRecordSeparatorsSkipsEscapedQuotes(t *testing.T) {
	raw := []byte(`{"k": "a\"`)
	raw = append(raw, recordSeparator)
	raw = append(raw, []byte(`\"b"}`)...)
	out := escapeRecordSeparators(raw)
	if bytes.Contains(out, []byte{recordSeparator}) {
		t.Fatalf("separator inside string survived: %q", out)
	}
	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal escaped frame: %v", err)
	}
	if want := "a\"\x1e\"b"; decoded["k"] != want {
		t.Fatalf("value = %q, want %q", decoded["k"], want)
	}
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	frame, err := EncodeRequest("run", map[string]any{"cell_ids": []string{"c1"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Op != Tag("run") {
		t.Fatalf("op = %s, want run", env.Op)
	}
	var payload struct {
		CellIDs []string `json:"cell_ids"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.CellIDs) != 1 || payload.CellIDs[0] != "c1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodeNullDataYieldsZeroPayload(t *testing.T) {
	op, err := Decode([]byte(`{"op": "interrupted", "data": null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := op.(*Interrupted); !ok {
		t.Fatalf("decoded %T, want *Interrupted", op)
	}
}
