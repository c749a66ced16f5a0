package restexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/criyle/go-rtide/judge0"
	"github.com/criyle/go-rtide/language"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type mockLister struct {
	languages []judge0.RemoteLanguage
	err       error
}

func (m *mockLister) Languages(context.Context) ([]judge0.RemoteLanguage, error) {
	return m.languages, m.err
}

func TestHandleLanguages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewLanguageHandle(language.Default()).Register(router)

	recorder := serve(router, http.MethodGet, "/languages", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var specs []language.Spec
	if err := json.Unmarshal(recorder.Body.Bytes(), &specs); err != nil {
		t.Fatal(err)
	}
	if len(specs) != 3 || specs[0].Name != language.Cpp || specs[1].Name != language.Java || specs[2].Name != language.Python {
		t.Errorf("unexpected languages %+v", specs)
	}
	if specs[2].ServiceID != 71 || specs[2].FileName != "Main.py" {
		t.Errorf("unexpected python entry %+v", specs[2])
	}

	if recorder := serve(router, http.MethodGet, "/languages/remote", nil); recorder.Code != http.StatusNotFound {
		t.Errorf("remote listing is a separate handle: expected %d, got %d", http.StatusNotFound, recorder.Code)
	}
}

func TestHandleRemoteLanguages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lister := &mockLister{languages: []judge0.RemoteLanguage{{ID: 71, Name: "Python (3.8.1)"}}}
	router := gin.New()
	NewRemoteLanguageHandle(lister, zaptest.NewLogger(t)).Register(router)

	recorder := serve(router, http.MethodGet, "/languages/remote", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var got []judge0.RemoteLanguage
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 71 {
		t.Errorf("unexpected remote languages %+v", got)
	}

	lister.err = errors.New("service unavailable")
	if recorder := serve(router, http.MethodGet, "/languages/remote", nil); recorder.Code != http.StatusBadGateway {
		t.Errorf("Expected status %d, got %d", http.StatusBadGateway, recorder.Code)
	}
}
