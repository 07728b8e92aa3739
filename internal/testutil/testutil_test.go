package testutil

import (
	"errors"
	"net/http"
	"testing"
)

func TestAssertHelpersOnPassingInputs(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	AssertNoError(fakeT, nil)
	AssertError(fakeT, errors.New("reader offline"))
	if fakeT.Failed() {
		t.Error("helpers failed on passing inputs")
	}
}

func TestAssertStatusCodeMismatch(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusNotFound, http.StatusOK)
	if !fakeT.Failed() {
		t.Error("mismatched status codes did not fail")
	}
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/api/finding/start")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.URL.Path != "/api/finding/start" {
		t.Errorf("path = %s, want /api/finding/start", req.URL.Path)
	}
}

func TestNewTestRecorder(t *testing.T) {
	w := NewTestRecorder()
	if w.Code != http.StatusOK {
		t.Errorf("initial Code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.Len() != 0 {
		t.Errorf("initial body length = %d, want 0", w.Body.Len())
	}
	w.WriteHeader(http.StatusNotFound)
	if w.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want %d", w.Code, http.StatusNotFound)
	}
}
