package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agora-labs/agora/internal/auth"
	"github.com/agora-labs/agora/internal/chemistry"
	"github.com/agora-labs/agora/internal/database"
	"github.com/agora-labs/agora/internal/metrics"
	"github.com/agora-labs/agora/internal/notes"
	"github.com/agora-labs/agora/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testAdminKey = "test-admin-key"
	testUserKey  = "test-user-key"
)

type testOptions struct {
	identityLimiter    ratelimit.Limiter
	identityLimit      int
	createNotesLimiter *ratelimit.ClientLimiter
	listNotesLimiter   *ratelimit.ClientLimiter
	allowedHosts       []string
	allowedOrigins     []string
	heartbeatInterval  time.Duration
	logger             *zap.Logger
}

type testEnv struct {
	handler http.Handler
	db      *gorm.DB
	events  *NoteEventDispatcher
	metrics *metrics.Recorder
}

func newTestEnv(t *testing.T, options testOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:agora_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, DSN: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	seedChemistry(t, db)

	recorder := metrics.NewRecorder()
	events := NewNoteEventDispatcher()
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Logger:   logger,
		Events:   MultiPublisher{events, recorder},
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	chemistryService, err := chemistry.NewService(chemistry.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct chemistry service: %v", err)
	}
	authenticator, err := auth.NewAuthenticator(auth.NewCredentialStore(map[string]auth.Identity{
		testAdminKey: {Name: "admin", Role: auth.RoleAdmin},
		testUserKey:  {Name: "user1", Role: auth.RoleUser},
	}))
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		NotesService:       notesService,
		ChemistryService:   chemistryService,
		Authenticator:      authenticator,
		IdentityLimiter:    options.identityLimiter,
		IdentityLimit:      options.identityLimit,
		CreateNotesLimiter: options.createNotesLimiter,
		ListNotesLimiter:   options.listNotesLimiter,
		Events:             events,
		HeartbeatInterval:  options.heartbeatInterval,
		Metrics:            recorder,
		Logger:             logger,
		AllowedOrigins:     options.allowedOrigins,
		AllowedHosts:       options.allowedHosts,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testEnv{handler: handler, db: db, events: events, metrics: recorder}
}

func seedChemistry(t *testing.T, db *gorm.DB) {
	t.Helper()

	fixtures := []any{
		&[]chemistry.Atom{
			{AtomID: 1, Symbol: "H", Name: "Hydrogen", AtomicNumber: 1, AtomicMass: 1.008},
			{AtomID: 2, Symbol: "O", Name: "Oxygen", AtomicNumber: 8, AtomicMass: 15.999},
		},
		&[]chemistry.Molecule{
			{MoleculeID: 1, Name: "Dihydrogen", Formula: "H2"},
			{MoleculeID: 2, Name: "Dioxygen", Formula: "O2"},
			{MoleculeID: 3, Name: "Water", Formula: "H2O"},
		},
		&[]chemistry.MoleculeAtom{
			{MoleculeID: 1, AtomID: 1, AtomCount: 2},
			{MoleculeID: 2, AtomID: 2, AtomCount: 2},
			{MoleculeID: 3, AtomID: 1, AtomCount: 2},
			{MoleculeID: 3, AtomID: 2, AtomCount: 1},
		},
		&[]chemistry.Reaction{
			{ReactionID: 1, Description: "Formation of water", ReactionType: "synthesis"},
		},
		&[]chemistry.ReactionMolecule{
			{ReactionID: 1, MoleculeID: 1, Role: chemistry.RoleReactant, Coefficient: 2},
			{ReactionID: 1, MoleculeID: 2, Role: chemistry.RoleReactant, Coefficient: 1},
			{ReactionID: 1, MoleculeID: 3, Role: chemistry.RoleProduct, Coefficient: 2},
		},
	}
	for _, fixture := range fixtures {
		if err := db.Create(fixture).Error; err != nil {
			t.Fatalf("failed to seed fixture: %v", err)
		}
	}
}

func (env *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		if name == "Host" {
			request.Host = value
			continue
		}
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func withKey(key string) map[string]string {
	return map[string]string{apiKeyHeader: key}
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status: got %d, want %d, body %s", recorder.Code, want, recorder.Body.String())
	}
}
