package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/criyle/go-rtide/ide"
	"github.com/criyle/go-rtide/language"
	"github.com/criyle/go-rtide/session"
)

func ptr[T any](v T) *T {
	return &v
}

func TestClientMessageEvent(t *testing.T) {
	cases := []struct {
		msg  ClientMessage
		want ide.Event
	}{
		{ClientMessage{Type: MessageLanguage, Language: "python"}, ide.SelectLanguage{Language: language.Python}},
		{ClientMessage{Type: MessageSource, Text: ptr("x")}, ide.EditSource{Text: "x"}},
		{ClientMessage{Type: MessageSource, Language: "java", Text: ptr("")}, ide.EditSource{Language: language.Java}},
		{ClientMessage{Type: MessageStdin, Text: ptr("1 2 3")}, ide.EditStdin{Text: "1 2 3"}},
	}
	for _, c := range cases {
		got, err := c.msg.Event()
		if err != nil {
			t.Errorf("%+v: %v", c.msg, err)
			continue
		}
		if got != c.want {
			t.Errorf("%+v: got %#v, want %#v", c.msg, got, c.want)
		}
	}
}

func TestClientMessageEventErrors(t *testing.T) {
	if _, err := (&ClientMessage{Type: MessageLanguage, Language: "rust"}).Event(); !errors.Is(err, language.ErrUnknown) {
		t.Errorf("expected ErrUnknown, got %v", err)
	}
	if _, err := (&ClientMessage{Type: MessageSource, Language: "cpp"}).Event(); err == nil {
		t.Error("expected error for source without text")
	}
	if _, err := (&ClientMessage{Type: MessageStdin}).Event(); err == nil {
		t.Error("expected error for stdin without text")
	}
	if _, err := (&ClientMessage{Type: MessageRun}).Event(); err == nil {
		t.Error("run is not an editing event")
	}
}

func TestSessionView(t *testing.T) {
	sess := &session.Session{
		ID: "ABC",
		Orchestrator: ide.NewOrchestrator(ide.Config{
			Store: ide.NewStore(ide.NewState(language.Default())),
		}),
	}
	b, err := json.Marshal(NewSession(sess))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["id"] != "ABC" || m["language"] != "cpp" || m["phase"] != "idle" || m["running"] != false {
		t.Errorf("unexpected view %s", b)
	}
	if _, ok := m["summary"]; ok {
		t.Errorf("summary present without result: %s", b)
	}
}
