package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Vertexcore-AI/IoT/internal/auth"
	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/inertia"
	"github.com/Vertexcore-AI/IoT/internal/influxdb"
	"github.com/Vertexcore-AI/IoT/internal/simulation"
	"github.com/Vertexcore-AI/IoT/internal/stats"
	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

type fixture struct {
	t          *testing.T
	router     *gin.Engine
	deps       Dependencies
	controller *farm.Controller
	planner    *farm.Planner
	cookie     *http.Cookie
}

type fakeSimulator struct{ running bool }

func (f *fakeSimulator) Enabled() bool                  { return f.running }
func (f *fakeSimulator) Toggle() bool                   { f.running = !f.running; return f.running }
func (f *fakeSimulator) Interval() time.Duration        { return 3 * time.Second }
func (f *fakeSimulator) Snapshot() []simulation.Channel { return nil }

type fakeInflux struct {
	rows    string
	queries []string
	err     error
}

func (f *fakeInflux) Ping(context.Context) error { return f.err }
func (f *fakeInflux) Config() influxdb.Config    { return influxdb.Config{Bucket: "farm"} }
func (f *fakeInflux) RecentReadings(_ context.Context, flt influxdb.Filter, _ time.Duration, _ int) ([]telemetry.Reading, error) {
	return []telemetry.Reading{{SensorID: flt.SensorID, Metric: flt.Metric, Value: 1}}, f.err
}
func (f *fakeInflux) ReadingsSince(_ context.Context, flt influxdb.Filter, start time.Time, _ int) ([]telemetry.Reading, error) {
	return []telemetry.Reading{{SensorID: flt.SensorID, Metric: flt.Metric, Value: 2, Time: start}}, f.err
}
func (f *fakeInflux) QueryRaw(_ context.Context, flux string) (string, error) {
	f.queries = append(f.queries, flux)
	return f.rows, f.err
}

type fakeLLM struct {
	replies []string
	prompts []string
}

func (f *fakeLLM) GenerateText(_ context.Context, system string, parts ...string) (string, error) {
	f.prompts = append(f.prompts, system)
	if len(f.replies) == 0 {
		return "", errors.New("no reply")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func newFixture(t *testing.T, mutate func(*Dependencies)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := telemetry.NewStore()
	ingestor := telemetry.NewIngestor(store)
	fleet := farm.NewFleet(farm.DefaultDevices(), store)
	controller := farm.NewController(farm.DefaultActuators(time.Now()), farm.NewMemoryCommandLog(50), nil)
	planner := farm.NewPlanner(farm.DefaultSlots(), farm.DefaultSettings(), &farm.MemoryScheduleStore{})
	users := auth.NewMemoryStore()
	authSvc := auth.NewService(users, users, auth.WithHashCost(bcrypt.MinCost))

	deps := Dependencies{
		Config:     Config{AssetVersion: "7", IngestToken: "secret"},
		Ingestor:   ingestor,
		Fleet:      fleet,
		Controller: controller,
		Planner:    planner,
		Stats:      stats.NewService(store, fleet, planner),
		Auth:       authSvc,
		Simulator:  &fakeSimulator{},
	}
	if mutate != nil {
		mutate(&deps)
	}
	router, err := NewRouter(deps)
	require.NoError(t, err)

	ctx := context.Background()
	u, err := authSvc.Register(ctx, auth.RegisterInput{Name: "Nimal", Email: "nimal@farm.lk", Password: "greenhouse"})
	require.NoError(t, err)
	sess, err := authSvc.Open(ctx, u.ID)
	require.NoError(t, err)

	return &fixture{
		t: t, router: router, deps: deps, controller: controller, planner: planner,
		cookie: &http.Cookie{Name: defaultSessionCookie, Value: sess.Token},
	}
}

func (f *fixture) do(method, path, body string, signedIn bool, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if signedIn {
		req.AddCookie(f.cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["subsystems"].(map[string]any)["influx"])

	rec = f.do(http.MethodGet, "/api/routes", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"watering-schedule"`)

	rec = f.do(http.MethodGet, "/api/influx/ping", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	payload := `{"sensorId":"TH01","metric":"temperature","value":23.1}`

	rec := f.do(http.MethodPost, "/api/telemetry", payload, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/telemetry", payload, false, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[telemetry.BatchResult](t, rec)
	assert.Equal(t, 1, res.Accepted)

	latest, ok := f.deps.Ingestor.Store().Latest("TH01", telemetry.MetricTemperature)
	require.True(t, ok)
	assert.Equal(t, "api", latest.Source)
}

func TestIngestBatchPartialAndInvalid(t *testing.T) {
	f := newFixture(t, nil)
	batch := `{"readings":[
		{"sensorId":"HU01","metric":"humidity","value":71},
		{"sensorId":"HU01","metric":"humidity","value":140},
		{"sensorId":"","metric":"humidity","value":50}
	]}`
	rec := f.do(http.MethodPost, "/api/telemetry", batch, false, "X-Ingest-Token", "secret")
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decode[telemetry.BatchResult](t, rec)
	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Index)

	rec = f.do(http.MethodPost, "/api/telemetry", `[{"sensorId":"X","metric":"wind","value":3}]`, false, "X-Ingest-Token", "secret")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/api/telemetry", `"nope"`, false, "X-Ingest-Token", "secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecodeReadingsShapes(t *testing.T) {
	rs, err := decodeReadings([]byte(`[{"sensorId":"A","metric":"ph","value":6.5,"source":"lab"}]`))
	require.NoError(t, err)
	assert.Equal(t, "lab", rs[0].Source)

	_, err = decodeReadings([]byte(`{"readings":[]}`))
	assert.ErrorIs(t, err, errBadRequest)

	_, err = decodeReadings([]byte(`   `))
	assert.ErrorIs(t, err, errBadRequest)
}

func TestTelemetryQueries(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now().UTC()
	_, err := f.deps.Ingestor.IngestBatch(context.Background(), []telemetry.Reading{
		{SensorID: "ENV01", Metric: telemetry.MetricVPD, Value: 1.0, Time: now.Add(-2 * time.Hour)},
		{SensorID: "ENV01", Metric: telemetry.MetricVPD, Value: 1.2, Time: now.Add(-time.Minute)},
		{SensorID: "CO201", Metric: telemetry.MetricCO2, Value: 600, Time: now.Add(-time.Minute)},
	})
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/telemetry/latest?sensor=ENV01&metric=vpd", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.2, decode[telemetry.Reading](t, rec).Value)

	rec = f.do(http.MethodGet, "/api/telemetry/latest?metric=co2", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]telemetry.Reading](t, rec)["readings"], 1)

	rec = f.do(http.MethodGet, "/api/telemetry/latest?sensor=PH01&metric=ph", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/telemetry/latest?metric=wind", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/api/telemetry/series?metric=vpd&window=6h&step=1h", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	series := decode[map[string]any](t, rec)
	assert.Equal(t, "ENV01", series["sensorId"])
	assert.Equal(t, 2.0, series["summary"].(map[string]any)["count"])

	rec = f.do(http.MethodGet, "/api/telemetry/series?metric=vpd&window=1000h&step=1m", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/telemetry/series?metric=vpd", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/telemetry/history?metric=vpd", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(http.MethodGet, "/api/telemetry/stream", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistoryReadsInflux(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.Influx = &fakeInflux{} })
	rec := f.do(http.MethodGet, "/api/telemetry/history?sensor=TH01&metric=temperature&limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	rs := decode[map[string][]telemetry.Reading](t, rec)["readings"]
	require.Len(t, rs, 1)
	assert.Equal(t, "TH01", rs[0].SensorID)

	rec = f.do(http.MethodGet, "/api/telemetry/history?limit=0", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/telemetry/history?sensor=WP01&since=2026-03-02T06:00:00Z", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	rs = decode[map[string][]telemetry.Reading](t, rec)["readings"]
	require.Len(t, rs, 1)
	assert.Equal(t, 2.0, rs[0].Value)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), rs[0].Time.UTC())

	rec = f.do(http.MethodGet, "/api/telemetry/history?since=yesterday", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActuatorEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/actuators/growLights/toggle", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	card := decode[map[string]any](t, rec)
	assert.Equal(t, "off", card["status"])
	assert.Equal(t, 0.0, card["power"])
	assert.NotEmpty(t, card["statusColor"])

	rec = f.do(http.MethodPost, "/api/actuators/heater/toggle", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, "/api/actuators/fans/level", `{"level":140}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100.0, decode[map[string]any](t, rec)["speed"])

	rec = f.do(http.MethodPut, "/api/actuators/waterPump/level", `{"level":10}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPut, "/api/actuators/fans/level", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/actuators/commands?limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	cmds := decode[map[string][]farm.Command](t, rec)["commands"]
	require.Len(t, cmds, 2)
	for _, cmd := range cmds {
		assert.Equal(t, "nimal@farm.lk", cmd.Actor)
	}

	rec = f.do(http.MethodGet, "/api/actuators", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]map[string]any](t, rec)["actuators"], 4)
}

func TestScheduleEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/schedule", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[scheduleView](t, rec)
	require.Len(t, view.Slots, 12)
	assert.Equal(t, "7:00 AM", view.Slots[0].Label)
	assert.Equal(t, "0.8-1.2 kPa", view.VPDTarget)

	rec = f.do(http.MethodPut, "/api/schedule/slots/1", `{"volume":500,"status":"paused"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[scheduleView](t, rec)
	assert.Equal(t, 300.0, view.Slots[1].Volume)
	assert.Equal(t, farm.SlotPaused, view.Slots[1].Status)
	assert.Equal(t, 0.0, view.Slots[1].PlannedVolume)

	rec = f.do(http.MethodPut, "/api/schedule/slots/12", `{"volume":100}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, "/api/schedule/slots/x", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/schedule/settings", `{"growthStage":"fruiting"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPut, "/api/schedule/settings", `{"growthStage":"flowering","profile":"herbs"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[scheduleView](t, rec)
	assert.Equal(t, "1.2-1.6 kPa", view.VPDTarget)
	assert.Equal(t, "herbs", view.Settings.Profile)
}

func TestStatisticsAndSimulation(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/statistics?range=24h", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	ov := decode[stats.Overview](t, rec)
	assert.Equal(t, "24h", ov.Range)
	assert.Len(t, ov.Cards, 4)

	rec = f.do(http.MethodGet, "/api/statistics?range=1y", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/api/dashboard", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/simulation/toggle", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["running"])

	rec = f.do(http.MethodGet, "/api/simulation/status", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3s", decode[map[string]any](t, rec)["interval"])
}

func TestOptionalSubsystemsAnswer503(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Controller = nil
		d.Planner = nil
		d.Stats = nil
		d.Simulator = nil
		d.Fleet = nil
	})
	for _, path := range []string{"/api/sensors", "/api/actuators", "/api/schedule", "/api/statistics", "/api/simulation/status"} {
		rec := f.do(http.MethodGet, path, "", true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec := f.do(http.MethodGet, "/sensors", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func inertiaPage(t *testing.T, rec *httptest.ResponseRecorder) inertia.Page {
	t.Helper()
	require.Equal(t, "true", rec.Header().Get(inertia.HeaderInertia))
	return decode[inertia.Page](t, rec)
}

func TestPagesRequireAuth(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/", "/dashboard", "/sensors", "/actuators", "/watering-schedule", "/statistics", "/profile"} {
		rec := f.do(http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, "/login", rec.Header().Get("Location"), path)
	}

	rec := f.do(http.MethodGet, "/login", "", true)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestDashboardPage(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/dashboard?plot=PL-701", "", true, inertia.HeaderInertia, "true", inertia.HeaderVersion, "7")
	require.Equal(t, http.StatusOK, rec.Code)
	page := inertiaPage(t, rec)
	assert.Equal(t, "Dashboard", page.Component)

	props := page.Props
	assert.Equal(t, "PL-701", props["selectedPlot"].(map[string]any)["id"])
	assert.Equal(t, "AgriSense", props["appName"])
	assert.Equal(t, "dashboard", props["route"])
	user := props["auth"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "Nimal", user["name"])
	assert.Equal(t, "nimal@farm.lk", user["email"])
	data := props["sensorData"].(map[string]any)
	assert.Equal(t, 1.1, data["vpd"])
	assert.Equal(t, "Optimal", props["vpdStatus"].(map[string]any)["status"])
	assert.Equal(t, "/dashboard", props["routes"].(map[string]any)["dashboard"])

	rec = f.do(http.MethodGet, "/dashboard?plot=nope", "", true, inertia.HeaderInertia, "true", inertia.HeaderVersion, "7")
	assert.Equal(t, "PL-02J", inertiaPage(t, rec).Props["selectedPlot"].(map[string]any)["id"])

	rec = f.do(http.MethodGet, "/dashboard", "", true, inertia.HeaderInertia, "true", inertia.HeaderVersion, "6")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/dashboard", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-page=`)
}

func TestSensorsAndStatisticsPages(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/sensors", "", true, inertia.HeaderInertia, "true", inertia.HeaderVersion, "7")
	page := inertiaPage(t, rec)
	sensors := page.Props["sensors"].([]any)
	require.Len(t, sensors, 6)
	first := sensors[0].(map[string]any)
	assert.Equal(t, "TH01", first["id"])
	assert.Equal(t, "24.2°C", first["display"])
	assert.Equal(t, "never", first["lastReadingLabel"])
	summary := page.Props["summary"].(map[string]any)
	assert.Equal(t, 6.0, summary["total"])

	rec = f.do(http.MethodGet, "/statistics?range=forever", "", true, inertia.HeaderInertia, "true", inertia.HeaderVersion, "7")
	page = inertiaPage(t, rec)
	assert.Equal(t, "7d", page.Props["range"])
	assert.Len(t, page.Props["cards"], 4)
}

func TestLoginRegisterLogoutFlow(t *testing.T) {
	f := newFixture(t, nil)

	form := url.Values{"email": {"nimal@farm.lk"}, "password": {"wrong-pass"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(inertia.HeaderInertia, "true")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	page := inertiaPage(t, rec)
	assert.Equal(t, "Auth/Login", page.Component)
	assert.Contains(t, page.Props["errors"].(map[string]any)["email"], "credentials")

	form.Set("password", "greenhouse")
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), defaultSessionCookie+"=")

	rec = f.do(http.MethodPost, "/register", `{"name":"Sita","email":"nimal@farm.lk","password":"greenhouse"}`, false, inertia.HeaderInertia, "true")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, inertiaPage(t, rec).Props["errors"], "email")

	rec = f.do(http.MethodPost, "/register", `{"name":"Sita","email":"sita@farm.lk","password":"greenhouse"}`, false)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = f.do(http.MethodPost, "/logout", "", true)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, "/dashboard", "", true)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestProfileUpdate(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPatch, "/profile", `{"name":"Nimal P","email":"np@farm.lk"}`, true)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/profile", rec.Header().Get("Location"))

	rec = f.do(http.MethodGet, "/profile", "", true, inertia.HeaderInertia, "true", inertia.HeaderVersion, "7")
	user := inertiaPage(t, rec).Props["auth"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "Nimal P", user["name"])
	assert.Equal(t, "np@farm.lk", user["email"])

	rec = f.do(http.MethodPatch, "/profile", `{"name":"","email":"np@farm.lk"}`, true, inertia.HeaderInertia, "true")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, inertiaPage(t, rec).Props["errors"], "name")
}

func TestChatQuery(t *testing.T) {
	influx := &fakeInflux{rows: "_time,_value\n2024-05-01T10:00:00Z,1.1\n"}
	llm := &fakeLLM{replies: []string{"```flux\nfrom(bucket: \"farm\")\n```", "VPD averaged 1.1 kPa."}}
	f := newFixture(t, func(d *Dependencies) {
		d.Influx = influx
		d.LLM = llm
	})

	rec := f.do(http.MethodPost, "/api/chat/query", `{"question":"What was VPD this morning?"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "VPD averaged 1.1 kPa.", body["answer"])
	assert.Equal(t, `from(bucket: "farm")`, body["fluxQuery"])
	require.Len(t, influx.queries, 1)
	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[0], `sensor_id="ENV01"`)
	assert.Contains(t, llm.prompts[0], "Measurement: telemetry")

	rec = f.do(http.MethodPost, "/api/chat/query", `{"question":"  "}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatQueryUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/chat/query", `{"question":"hi"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNormalizeFluxQuery(t *testing.T) {
	assert.Equal(t, "from(bucket: \"x\")", normalizeFluxQuery("```flux\nfrom(bucket: \"x\")\n```"))
	assert.Equal(t, "range()", normalizeFluxQuery("  range()  "))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("APP_NAME", "")
	t.Setenv("ASSET_VERSION", "")
	t.Setenv("INGEST_TOKEN", "")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("SESSION_COOKIE", "")
	t.Setenv("SESSION_SECURE", "")
	t.Setenv("STORE_CAPACITY", "")
	t.Setenv("STORE_MAX_SERIES", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "AgriSense", cfg.AppName)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, defaultStoreCapacity, cfg.StoreCapacity)
	assert.Equal(t, defaultStoreSeries, cfg.StoreSeries)
	assert.False(t, cfg.allowAllOrigins())

	t.Setenv("STORE_CAPACITY", "-1")
	_, err = FromEnv()
	assert.Error(t, err)

	t.Setenv("STORE_CAPACITY", "")
	t.Setenv("STORE_MAX_SERIES", "0")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(telemetry.ErrBatchTooLarge))
	assert.Equal(t, http.StatusNotFound, statusFor(farm.ErrSlotNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(auth.ErrEmailTaken))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, "password", fieldFor(auth.ErrPasswordTooShort))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(auth.ErrPasswordTooLong))
	assert.Equal(t, "password", fieldFor(auth.ErrPasswordTooLong))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(auth.ErrInvalidCredentials))
	assert.Equal(t, http.StatusUnauthorized, statusFor(errUnauthorized))
}
