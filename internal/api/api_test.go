package api

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/notify"
	"alcyxob/video-app/internal/pipeline"
	"alcyxob/video-app/internal/repository/memory"
	"alcyxob/video-app/internal/service"
	"alcyxob/video-app/internal/storage"
	"alcyxob/video-app/internal/stream"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type idleScheduler struct{}

func (idleScheduler) Submit(primitive.ObjectID) error { return nil }

type testApp struct {
	router *gin.Engine
	server *httptest.Server
	videos *memory.VideoRepository
}

func newTestApp(t *testing.T, runJobs bool) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.Discard()

	users := memory.NewUserRepository()
	videos := memory.NewVideoRepository()
	files, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hub := notify.NewHub(logger)
	auth := service.NewAuthService(users, "test-secret", time.Hour)

	var scheduler service.JobScheduler = idleScheduler{}
	if runJobs {
		proc, err := pipeline.NewProcessor(pipeline.Config{
			Store:    videos,
			Notifier: hub,
			Classifier: pipeline.ClassifierFunc(func(context.Context, *domain.Video) (domain.Sensitivity, error) {
				return domain.SensitivitySafe, nil
			}),
			StepDelay: time.Millisecond,
			Logger:    logger,
		})
		if err != nil {
			t.Fatal(err)
		}
		s := pipeline.NewScheduler(proc, 2, logger)
		t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
		scheduler = s
	}

	videoService := service.NewVideoService(videos, files, scheduler, nil, service.UploadPolicy{
		MaxBytes:         1 << 20,
		AllowedMimeTypes: []string{"video/mp4", "video/quicktime"},
	}, logger)

	router := gin.New()
	SetupRoutes(router, Dependencies{
		AuthService:    auth,
		VideoService:   videoService,
		Responder:      stream.NewResponder(logger),
		Realtime:       notify.NewServer(notify.ServerConfig{Hub: hub, Verifier: auth, Logger: logger}),
		MaxUploadBytes: 1 << 20,
		Logger:         logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testApp{router: router, server: server, videos: videos}
}

func (a *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(t, req)
}

type session struct {
	token  string
	userID string
}

func (a *testApp) register(t *testing.T, email string, role domain.Role) session {
	t.Helper()
	rec := a.request(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": email, "password": "secret1", "role": role,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, rec.Code, rec.Body)
	}
	var resp AuthResponse
	decode(t, rec, &resp)
	return session{token: resp.Token, userID: resp.User.ID}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func uploadRequest(t *testing.T, token, title, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	if content != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="video"; filename="clip.mp4"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(content)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (a *testApp) upload(t *testing.T, token string, content []byte) string {
	t.Helper()
	rec := a.do(t, uploadRequest(t, token, "My clip", "video/mp4", content))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body)
	}
	var resp UploadResponse
	decode(t, rec, &resp)
	if resp.Video.Status != domain.StatusProcessing || resp.Video.Sensitivity != domain.SensitivityPending {
		t.Fatalf("upload response = %+v", resp)
	}
	return resp.Video.ID
}

func TestAuthFlow(t *testing.T) {
	app := newTestApp(t, false)
	s := app.register(t, "ann@example.com", "")

	rec := app.request(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "ann@example.com", "password": "secret1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", rec.Code)
	}
	rec = app.request(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "bob@example.com", "password": "123"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: %d", rec.Code)
	}

	rec = app.request(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ann@example.com", "password": "nope-nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", rec.Code)
	}
	rec = app.request(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ann@example.com", "password": "secret1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}

	rec = app.request(t, http.MethodGet, "/api/v1/me", s.token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), s.userID) {
		t.Fatalf("me: %d %s", rec.Code, rec.Body)
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me without token: %d", rec.Code)
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/me", "forged", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me with bad token: %d", rec.Code)
	}
}

func TestUploadValidation(t *testing.T) {
	app := newTestApp(t, false)
	editor := app.register(t, "ed@example.com", domain.RoleEditor)
	viewer := app.register(t, "vi@example.com", domain.RoleViewer)

	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"viewer may not upload", uploadRequest(t, viewer.token, "t", "video/mp4", []byte("x")), http.StatusForbidden},
		{"missing title", uploadRequest(t, editor.token, "", "video/mp4", []byte("x")), http.StatusBadRequest},
		{"missing file", uploadRequest(t, editor.token, "t", "", nil), http.StatusBadRequest},
		{"wrong type", uploadRequest(t, editor.token, "t", "image/png", []byte("x")), http.StatusBadRequest},
		{"too large", uploadRequest(t, editor.token, "t", "video/mp4", make([]byte, 3<<19)), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := app.do(t, tc.req); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestVideoAccessControl(t *testing.T) {
	app := newTestApp(t, false)
	owner := app.register(t, "owner@example.com", domain.RoleEditor)
	stranger := app.register(t, "other@example.com", domain.RoleEditor)
	admin := app.register(t, "admin@example.com", domain.RoleAdmin)
	id := app.upload(t, owner.token, []byte("frames"))

	for _, path := range []string{"/api/v1/videos/" + id, "/api/v1/videos/stream/" + id} {
		if rec := app.request(t, http.MethodGet, path, stranger.token, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("%s stranger: %d", path, rec.Code)
		}
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/videos/"+id, admin.token, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin detail: %d", rec.Code)
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/videos/"+id, owner.token, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner detail: %d", rec.Code)
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/videos/"+primitive.NewObjectID().Hex(), owner.token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown video: %d", rec.Code)
	}

	// still processing: nothing to stream yet
	if rec := app.request(t, http.MethodGet, "/api/v1/videos/stream/"+id, owner.token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("stream not ready: %d", rec.Code)
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/videos/"+id+"/download-url", owner.token, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("download-url without storage: %d", rec.Code)
	}

	var list struct {
		Videos []VideoResponse `json:"videos"`
	}
	rec := app.request(t, http.MethodGet, "/api/v1/videos", stranger.token, nil)
	decode(t, rec, &list)
	if len(list.Videos) != 0 {
		t.Fatalf("stranger sees %d videos", len(list.Videos))
	}
	rec = app.request(t, http.MethodGet, "/api/v1/videos?status=processing", owner.token, nil)
	decode(t, rec, &list)
	if len(list.Videos) != 1 || list.Videos[0].ID != id {
		t.Fatalf("owner list = %+v", list.Videos)
	}
	if rec := app.request(t, http.MethodGet, "/api/v1/videos?status=bogus", owner.token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: %d", rec.Code)
	}
}

func TestStreamMissingFile(t *testing.T) {
	app := newTestApp(t, false)
	owner := app.register(t, "owner@example.com", domain.RoleEditor)
	ownerID, _ := primitive.ObjectIDFromHex(owner.userID)
	v := &domain.Video{OwnerID: ownerID, Title: "gone", StoredFileName: "gone.mp4", MimeType: "video/mp4"}
	if _, err := app.videos.Create(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	safe := domain.SensitivitySafe
	_ = app.videos.UpdateStatus(context.Background(), v.ID, domain.StatusCompleted, &safe)

	if rec := app.request(t, http.MethodGet, "/api/v1/videos/stream/"+v.ID.Hex(), owner.token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadProcessAndStream(t *testing.T) {
	app := newTestApp(t, true)
	owner := app.register(t, "owner@example.com", domain.RoleEditor)

	wsURL := "ws" + strings.TrimPrefix(app.server.URL, "http") + "/api/v1/ws?token=" + owner.token
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if err := ws.WriteJSON(gin.H{"event": "join", "data": owner.userID}); err != nil {
		t.Fatal(err)
	}
	var joined notify.Envelope
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := ws.ReadJSON(&joined); err != nil || joined.Event != "joined" {
		t.Fatalf("join reply = %+v, %v", joined, err)
	}

	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i)
	}
	id := app.upload(t, owner.token, content)

	want := []string{notify.EventProcessing, notify.EventProgress, notify.EventProgress, notify.EventProgress, notify.EventCompleted}
	for i, name := range want {
		var env struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if env.Event != name || env.Data["videoId"] != id {
			t.Fatalf("event %d = %+v, want %s", i, env, name)
		}
		if name == notify.EventCompleted && (env.Data["sensitivity"] != "safe" || env.Data["progress"] != float64(100)) {
			t.Fatalf("completed payload = %+v", env.Data)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/stream/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+owner.token)
	req.Header.Set("Range", "bytes=0-99")
	rec := app.do(t, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("range status = %d %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Fatalf("Content-Range = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), content[:100]) {
		t.Fatal("range body mismatch")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos/stream/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+owner.token)
	req.Header.Set("Range", "bytes=5000-")
	if rec := app.do(t, req); rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("unsatisfiable status = %d", rec.Code)
	}

	rec = app.request(t, http.MethodGet, "/api/v1/videos/"+id, owner.token, nil)
	var detail struct {
		Video VideoResponse `json:"video"`
	}
	decode(t, rec, &detail)
	if detail.Video.Status != domain.StatusCompleted || detail.Video.Sensitivity != domain.SensitivitySafe {
		t.Fatalf("detail = %+v", detail.Video)
	}
}

func TestHealthAndUnknownRoute(t *testing.T) {
	app := newTestApp(t, false)
	if rec := app.request(t, http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec := app.request(t, http.MethodGet, "/api/v1/nothing-here", "", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Route not found") {
		t.Fatalf("no route: %d %s", rec.Code, rec.Body)
	}
}

func TestHealthReportsStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", healthHandler(func(context.Context) error { return fmt.Errorf("down") }))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAllowedOrigins(t *testing.T) {
	got := AllowedOrigins("https://app.example.com/")
	if len(got) != 3 || got[2] != "https://app.example.com" {
		t.Fatalf("origins = %v", got)
	}
	if got := AllowedOrigins("not a url"); len(got) != 2 {
		t.Fatalf("origins = %v", got)
	}
}
