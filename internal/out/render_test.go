package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/sonic-agent/internal/config"
	"github.com/ggonzalez94/sonic-agent/internal/model"
)

type narrative struct {
	Text string `json:"text"`
	OK   bool   `json:"ok"`
}

func (n narrative) PlainText() string { return n.Text }

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.StrategyListing{{ID: "wrap-and-deposit", ActionID: "execute-wrap-and-deposit", StartToken: "S"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"action_id"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["action_id"] != "execute-wrap-and-deposit" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["start_token"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlainKeyValues(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []model.OperationListing{{Name: "wrapS", Summary: "Wrap S"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "name=wrapS") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainNarrative(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: false,
		Data:    narrative{Text: "Could not complete wrap-s: insufficient S balance"},
		Error:   &model.ErrorBody{Code: 21, Type: "insufficient_balance"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "error=insufficient_balance\nCould not complete wrap-s: insufficient S balance\n"
	if buf.String() != want {
		t.Fatalf("unexpected narrative output: %q", buf.String())
	}

	buf.Reset()
	if err := Render(&buf, env, config.Settings{OutputMode: "json", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"text": "Could not complete wrap-s`) {
		t.Fatalf("json mode must keep structure: %s", buf.String())
	}
}
