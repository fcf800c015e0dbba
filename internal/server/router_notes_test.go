package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/agora-labs/agora/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestNotesLifecycle(testContext *testing.T) {
	env := newTestEnv(testContext, testOptions{})

	created := env.do(testContext, http.MethodPost, "/notes", `{"topic":"physics","content":"E = mc^2","author":"Albert"}`, nil)
	expectStatus(testContext, created, http.StatusCreated)
	note := decodeBody[noteResponse](testContext, created)
	if note.ID == 0 || note.Votes != 0 || note.Pinned || note.Author != "Albert" {
		testContext.Fatalf("unexpected created note: %#v", note)
	}
	path := "/notes/" + strconv.FormatUint(note.ID, 10)

	for expected := int64(1); expected <= 2; expected++ {
		voted := env.do(testContext, http.MethodPost, path+"/vote", "", nil)
		expectStatus(testContext, voted, http.StatusOK)
		if votes := decodeBody[noteResponse](testContext, voted).Votes; votes != expected {
			testContext.Fatalf("expected %d votes, got %d", expected, votes)
		}
	}

	pinned := env.do(testContext, http.MethodPost, path+"/pin", "", nil)
	expectStatus(testContext, pinned, http.StatusOK)
	pinnedNote := decodeBody[noteResponse](testContext, pinned)
	if !pinnedNote.Pinned || pinnedNote.Votes != 2 {
		testContext.Fatalf("unexpected pinned note: %#v", pinnedNote)
	}

	updated := env.do(testContext, http.MethodPut, path, `{"content":"E = mc²"}`, nil)
	expectStatus(testContext, updated, http.StatusOK)
	updatedNote := decodeBody[noteResponse](testContext, updated)
	if updatedNote.Content != "E = mc²" || updatedNote.Topic != "physics" || updatedNote.Votes != 2 {
		testContext.Fatalf("unexpected updated note: %#v", updatedNote)
	}

	expectStatus(testContext, env.do(testContext, http.MethodDelete, path, "", nil), http.StatusForbidden)
	expectStatus(testContext, env.do(testContext, http.MethodDelete, path, "", withKey(testUserKey)), http.StatusForbidden)

	deleted := env.do(testContext, http.MethodDelete, path, "", withKey(testAdminKey))
	expectStatus(testContext, deleted, http.StatusOK)
	if message := decodeBody[map[string]string](testContext, deleted)["message"]; message != "Note deleted successfully" {
		testContext.Fatalf("unexpected delete message: %q", message)
	}

	missing := env.do(testContext, http.MethodGet, path, "", nil)
	expectStatus(testContext, missing, http.StatusNotFound)
	if code := decodeBody[errorBody](testContext, missing).Code; code != "notes.get.not_found" {
		testContext.Fatalf("unexpected not found code: %q", code)
	}
}

func TestCreateNoteDefaultsAuthor(testContext *testing.T) {
	env := newTestEnv(testContext, testOptions{})

	recorder := env.do(testContext, http.MethodPost, "/notes", `{"topic":"math","content":"1 + 1 = 2"}`, nil)
	expectStatus(testContext, recorder, http.StatusCreated)
	if author := decodeBody[noteResponse](testContext, recorder).Author; author != notes.DefaultAuthor {
		testContext.Fatalf("expected default author, got %q", author)
	}
}

func TestCreateNoteValidationFailures(testContext *testing.T) {
	testCases := []struct {
		name      string
		body      string
		wantError string
		wantField string
	}{
		{name: "missing topic", body: `{"content":"body"}`, wantError: "validation_failed", wantField: "topic"},
		{name: "empty content", body: `{"topic":"t","content":""}`, wantError: "validation_failed", wantField: "content"},
		{name: "long author", body: `{"topic":"t","content":"c","author":"` + strings.Repeat("a", 51) + `"}`, wantError: "validation_failed", wantField: "author"},
		{name: "long topic", body: `{"topic":"` + strings.Repeat("t", 101) + `","content":"c"}`, wantError: "validation_failed", wantField: "topic"},
		{name: "malformed json", body: `{"topic":`, wantError: "invalid_request"},
	}

	env := newTestEnv(testContext, testOptions{})
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			recorder := env.do(t, http.MethodPost, "/notes", testCase.body, nil)
			expectStatus(t, recorder, http.StatusUnprocessableEntity)
			payload := decodeBody[errorBody](t, recorder)
			if payload.Error != testCase.wantError {
				t.Fatalf("unexpected error: got %q, want %q", payload.Error, testCase.wantError)
			}
			if testCase.wantField != "" {
				if _, ok := payload.Fields[testCase.wantField]; !ok {
					t.Fatalf("expected field %q in %v", testCase.wantField, payload.Fields)
				}
			}
		})
	}
}

func TestUpdateNoteWithEmptyPayloadReturnsCurrentNote(testContext *testing.T) {
	env := newTestEnv(testContext, testOptions{})

	created := decodeBody[noteResponse](testContext, env.do(testContext, http.MethodPost, "/notes", `{"topic":"t","content":"c"}`, nil))
	recorder := env.do(testContext, http.MethodPut, "/notes/"+strconv.FormatUint(created.ID, 10), `{}`, nil)
	expectStatus(testContext, recorder, http.StatusOK)
	if decodeBody[noteResponse](testContext, recorder) != created {
		testContext.Fatalf("expected unchanged note")
	}
}

func TestNoteRoutesRejectInvalidIdentifiers(testContext *testing.T) {
	env := newTestEnv(testContext, testOptions{})

	for _, path := range []string{"/notes/abc", "/notes/0", "/notes/-1/vote"} {
		method := http.MethodGet
		if path == "/notes/-1/vote" {
			method = http.MethodPost
		}
		recorder := env.do(testContext, method, path, "", nil)
		expectStatus(testContext, recorder, http.StatusUnprocessableEntity)
	}
	expectStatus(testContext, env.do(testContext, http.MethodPost, "/notes/999/vote", "", nil), http.StatusNotFound)
	expectStatus(testContext, env.do(testContext, http.MethodPost, "/notes/999/pin", "", nil), http.StatusNotFound)
}

func TestNoteRoutesRejectIdentifiersBeyondInt64(testContext *testing.T) {
	env := newTestEnv(testContext, testOptions{})

	const outOfRange = "/notes/9223372036854775808"
	requests := []struct {
		method  string
		path    string
		headers map[string]string
	}{
		{method: http.MethodGet, path: outOfRange},
		{method: http.MethodPut, path: outOfRange},
		{method: http.MethodPost, path: outOfRange + "/vote"},
		{method: http.MethodPost, path: outOfRange + "/pin"},
		{method: http.MethodDelete, path: outOfRange, headers: withKey(testAdminKey)},
	}
	for _, request := range requests {
		body := ""
		if request.method == http.MethodPut {
			body = `{"content":"c"}`
		}
		recorder := env.do(testContext, request.method, request.path, body, request.headers)
		expectStatus(testContext, recorder, http.StatusUnprocessableEntity)
		if payload := decodeBody[errorBody](testContext, recorder); payload.Error != "validation_failed" {
			testContext.Fatalf("%s %s: unexpected error %q", request.method, request.path, payload.Error)
		}
	}
}

func TestListAndTopNotes(testContext *testing.T) {
	env := newTestEnv(testContext, testOptions{})

	bodies := []string{
		`{"topic":"physics","content":"Quantum entanglement","author":"Niels"}`,
		`{"topic":"physics","content":"Relativity","author":"Albert"}`,
		`{"topic":"biology","content":"QUANTUM biology","author":"Albert"}`,
	}
	ids := make([]uint64, 0, len(bodies))
	for _, body := range bodies {
		recorder := env.do(testContext, http.MethodPost, "/notes", body, nil)
		expectStatus(testContext, recorder, http.StatusCreated)
		ids = append(ids, decodeBody[noteResponse](testContext, recorder).ID)
	}
	env.do(testContext, http.MethodPost, "/notes/"+strconv.FormatUint(ids[1], 10)+"/vote", "", nil)

	byTopic := decodeBody[[]noteResponse](testContext, env.do(testContext, http.MethodGet, "/notes?topic=physics", "", nil))
	if len(byTopic) != 2 {
		testContext.Fatalf("expected 2 physics notes, got %d", len(byTopic))
	}
	byAuthor := decodeBody[[]noteResponse](testContext, env.do(testContext, http.MethodGet, "/notes?author=Albert", "", nil))
	if len(byAuthor) != 2 {
		testContext.Fatalf("expected 2 notes by Albert, got %d", len(byAuthor))
	}
	bySearch := decodeBody[[]noteResponse](testContext, env.do(testContext, http.MethodGet, "/notes?search=quantum", "", nil))
	if len(bySearch) != 2 {
		testContext.Fatalf("expected 2 notes matching quantum, got %d", len(bySearch))
	}

	top := decodeBody[[]noteResponse](testContext, env.do(testContext, http.MethodGet, "/notes/top", "", nil))
	if len(top) != 3 || top[0].ID != ids[1] {
		testContext.Fatalf("expected most voted note first, got %#v", top)
	}
}

func TestHandleListNotesIncludesServiceErrorCode(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Request = httptest.NewRequest(http.MethodGet, "/notes", http.NoBody)

	handler := &httpHandler{
		notesService: &notes.Service{},
		logger:       zap.NewNop(),
	}

	handler.handleListNotes(context)

	if recorder.Code != http.StatusInternalServerError {
		testContext.Fatalf("expected internal server error status, got %d", recorder.Code)
	}
	payload := decodeBody[errorBody](testContext, recorder)
	if payload.Code != "notes.list.missing_database" {
		testContext.Fatalf("expected list notes error code, got %q", payload.Code)
	}
	if payload.Detail != "internal server error" {
		testContext.Fatalf("expected opaque detail, got %q", payload.Detail)
	}
}
