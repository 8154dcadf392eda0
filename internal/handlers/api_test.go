package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ratepro/internal/metrics"
	"ratepro/internal/middleware"
	"ratepro/internal/models"
	"ratepro/internal/services"
)

type testAPI struct {
	db        *gorm.DB
	router    *gin.Engine
	responses *ResponseHandler
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newTestAPI(t *testing.T, autoAnalyze bool) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	responses := services.NewResponseStore(db)
	surveys := services.NewSurveyStore(db)
	actions := services.NewActionStore(db)
	recognitions := services.NewRecognitionStore(db)
	executor := services.NewActionExecutor(responses, actions, recognitions, services.NewLogSink(log), log)
	analysis := services.NewAnalysisService(services.AnalysisServiceDeps{
		Responses: responses,
		Surveys:   surveys,
		Insights:  services.HeuristicInsightSource{},
		Executor:  executor,
	}, log)

	api := &testAPI{db: db, router: gin.New()}
	api.responses = NewResponseHandler(responses, surveys, analysis, autoAnalyze, log)

	RegisterHealthRoutes(api.router, NewHealthHandler(db, nil, services.NewCircuitBreaker(services.DefaultCircuitBreakerConfig()), "test", log), "/metrics")
	v1 := api.router.Group("/api/v1")
	v1.Use(middleware.RequireTenant())
	RegisterAnalysisRoutes(v1, NewAnalysisHandler(analysis, log))
	RegisterResponseRoutes(v1, api.responses)
	RegisterSurveyRoutes(v1, NewSurveyHandler(services.NewSurveyService(surveys, log), log))
	RegisterSegmentRoutes(v1, NewSegmentHandler(services.NewSegmentService(services.NewGormContactStore(db)), log))
	RegisterActionRoutes(v1, NewActionHandler(actions, log))
	RegisterRecognitionRoutes(v1, NewRecognitionHandler(recognitions, log))
	return api
}

func (a *testAPI) do(t *testing.T, method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (a *testAPI) createSurvey(t *testing.T, tenant string, questions ...models.Question) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/surveys", tenant, SurveyRequest{
		Title:          "Delivery",
		TargetAudience: models.TargetAudience{AudienceType: "all"},
		Questions:      questions,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s models.Survey
	decode(t, w, &s)
	return s.ID
}

// publishedSurvey creates a survey with one rating question, or the given
// questions, and publishes it.
func (a *testAPI) publishedSurvey(t *testing.T, tenant string, questions ...models.Question) string {
	t.Helper()
	if len(questions) == 0 {
		questions = []models.Question{{ID: "q1", Type: "rating", QuestionText: "Rate us"}}
	}
	id := a.createSurvey(t, tenant, questions...)
	w := a.do(t, http.MethodPost, "/api/v1/surveys/"+id+"/publish", tenant, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return id
}

func (a *testAPI) submit(t *testing.T, tenant, surveyID string, req SubmitResponseRequest) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/surveys/"+surveyID+"/responses", tenant, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var r models.Response
	decode(t, w, &r)
	return r.ID
}

func rating(v float64) *float64 { return &v }

func TestAPI_RequiresTenant(t *testing.T) {
	api := newTestAPI(t, false)
	w := api.do(t, http.MethodGet, "/api/v1/actions", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_AnalyzeAndGate(t *testing.T) {
	metrics.Reset()
	api := newTestAPI(t, false)
	surveyID := api.publishedSurvey(t, "t1")
	responseID := api.submit(t, "t1", surveyID, SubmitResponseRequest{
		Review: "Awful service, I want a refund",
		Rating: rating(1),
	})
	path := "/api/v1/surveys/" + surveyID + "/responses/" + responseID + "/analyze"

	w := api.do(t, http.MethodPost, path, "t1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first services.AnalyzeResult
	decode(t, w, &first)
	assert.False(t, first.Skipped)
	require.NotNil(t, first.Plan)
	assert.Equal(t, []models.IntentKind{
		models.IntentDashboardFlag, models.IntentCreateAction, models.IntentSendAlert,
	}, first.Plan.Intents)
	for _, r := range first.Results {
		assert.NotEqual(t, models.StatusFailed, r.Status, "%s: %s", r.Intent, r.Error)
	}

	w = api.do(t, http.MethodPost, path, "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second services.AnalyzeResult
	decode(t, w, &second)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Results, second.Results)

	w = api.do(t, http.MethodGet, "/api/v1/actions?response_id="+responseID, "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data  []models.Action `json:"data"`
		Total int64           `json:"total"`
	}
	decode(t, w, &page)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, models.ActionStatusPending, page.Data[0].Status)

	w = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ratepro_analysis_runs{outcome="completed"} 1`)
	assert.Contains(t, w.Body.String(), `ratepro_analysis_runs{outcome="skipped"} 1`)
}

func TestAPI_AnalyzeDryRun(t *testing.T) {
	api := newTestAPI(t, false)
	surveyID := api.publishedSurvey(t, "t1")
	responseID := api.submit(t, "t1", surveyID, SubmitResponseRequest{Review: "Awful", Rating: rating(1)})
	path := "/api/v1/surveys/" + surveyID + "/responses/" + responseID + "/analyze"

	w := api.do(t, http.MethodPost, path+"?dry_run=true", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res services.AnalyzeResult
	decode(t, w, &res)
	require.NotEmpty(t, res.Results)
	for _, r := range res.Results {
		assert.Equal(t, models.StatusPlanned, r.Status)
	}

	var count int64
	require.NoError(t, api.db.Model(&models.Action{}).Count(&count).Error)
	assert.Zero(t, count)

	w = api.do(t, http.MethodPost, path+"?dry_run=maybe", "t1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_AnalyzeErrors(t *testing.T) {
	api := newTestAPI(t, false)
	surveyID := api.publishedSurvey(t, "t1")
	responseID := api.submit(t, "t1", surveyID, SubmitResponseRequest{Review: "fine"})

	w := api.do(t, http.MethodPost, "/api/v1/surveys/"+surveyID+"/responses/"+responseID+"/analyze", "t2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/surveys/other/responses/"+responseID+"/analyze", "t1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, http.StatusBadRequest, body.Code)
}

func TestAPI_SubmitAutoAnalyzes(t *testing.T) {
	api := newTestAPI(t, true)
	surveyID := api.publishedSurvey(t, "t1")
	responseID := api.submit(t, "t1", surveyID, SubmitResponseRequest{
		Review: "Great team, thank you so much",
		Rating: rating(5),
	})
	api.responses.Wait()

	w := api.do(t, http.MethodGet, "/api/v1/surveys/"+surveyID+"/responses/"+responseID, "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.Response
	decode(t, w, &resp)
	require.NotNil(t, resp.AnalyzedAt)
	assert.Equal(t, models.SentimentPositive, resp.Analysis.Data().Sentiment)

	w = api.do(t, http.MethodGet, "/api/v1/recognitions", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []models.RecognitionEntry `json:"data"`
	}
	decode(t, w, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, responseID, list.Data[0].ResponseID)
}

func TestAPI_SubmitUnknownSurvey(t *testing.T) {
	api := newTestAPI(t, false)
	w := api.do(t, http.MethodPost, "/api/v1/surveys/missing/responses", "t1", SubmitResponseRequest{Review: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_SubmitRequiresPublishedSurvey(t *testing.T) {
	api := newTestAPI(t, false)
	loopID := api.createSurvey(t, "t1",
		models.Question{ID: "A", Type: "text", QuestionText: "How was it?", LogicRules: []models.LogicRule{{NextQuestionID: "B"}}},
		models.Question{ID: "B", Type: "text", QuestionText: "Why?", LogicRules: []models.LogicRule{{NextQuestionID: "A"}}},
	)
	w := api.do(t, http.MethodPost, "/api/v1/surveys/"+loopID+"/publish", "t1", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	draftID := api.createSurvey(t, "t1", models.Question{ID: "q1", Type: "rating", QuestionText: "Rate us"})
	for _, id := range []string{loopID, draftID} {
		w = api.do(t, http.MethodPost, "/api/v1/surveys/"+id+"/responses", "t1", SubmitResponseRequest{Review: "hello"})
		assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
		var body ErrorResponse
		decode(t, w, &body)
		assert.Contains(t, body.Message, "not published")
	}

	var count int64
	require.NoError(t, api.db.Model(&models.Response{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAPI_SubmitRejectsOutOfRangeValues(t *testing.T) {
	api := newTestAPI(t, true)
	surveyID := api.publishedSurvey(t, "t1")
	score := func(v int) *int { return &v }

	cases := []struct {
		name string
		req  SubmitResponseRequest
	}{
		{"negative score", SubmitResponseRequest{Score: score(-1)}},
		{"score above ten", SubmitResponseRequest{Score: score(11)}},
		{"score far out", SubmitResponseRequest{Score: score(42), Rating: rating(-7)}},
		{"zero rating", SubmitResponseRequest{Rating: rating(0)}},
		{"rating above scale", SubmitResponseRequest{Rating: rating(6)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/v1/surveys/"+surveyID+"/responses", "t1", tc.req)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	api.responses.Wait()

	var count int64
	require.NoError(t, api.db.Model(&models.Response{}).Count(&count).Error)
	assert.Zero(t, count)

	api.submit(t, "t1", surveyID, SubmitResponseRequest{Score: score(0), Rating: rating(5)})
	api.submit(t, "t1", surveyID, SubmitResponseRequest{Score: score(10), Rating: rating(1)})
	api.responses.Wait()
}

func TestAPI_SurveyValidateAndPublish(t *testing.T) {
	api := newTestAPI(t, false)
	loop := []models.Question{
		{ID: "A", Type: "text", QuestionText: "How was it?", LogicRules: []models.LogicRule{{NextQuestionID: "B"}}},
		{ID: "B", Type: "text", QuestionText: "Why?", LogicRules: []models.LogicRule{{NextQuestionID: "A"}}},
	}

	w := api.do(t, http.MethodPost, "/api/v1/surveys/validate", "t1", SurveyRequest{
		Title:          "Loop",
		TargetAudience: models.TargetAudience{AudienceType: "all"},
		Questions:      loop,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var result services.FlowValidationResult
	decode(t, w, &result)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{`Survey flow contains a cycle: question "Why?" loops back to question "How was it?"`}, result.Errors)

	surveyID := api.createSurvey(t, "t1", loop...)
	w = api.do(t, http.MethodPost, "/api/v1/surveys/"+surveyID+"/publish", "t1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body ErrorResponse
	decode(t, w, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, body.Code)
	assert.NotEmpty(t, body.Details)

	goodID := api.createSurvey(t, "t1", models.Question{ID: "q1", Type: "rating", QuestionText: "Rate us"})
	w = api.do(t, http.MethodPost, "/api/v1/surveys/"+goodID+"/publish", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var published models.Survey
	decode(t, w, &published)
	assert.Equal(t, models.SurveyStatusPublished, published.Status)

	w = api.do(t, http.MethodPost, "/api/v1/surveys/"+goodID+"/publish", "t2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/surveys", "t1", map[string]interface{}{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_SegmentPreview(t *testing.T) {
	api := newTestAPI(t, false)
	store := services.NewGormContactStore(api.db)
	ctx := context.Background()
	for _, c := range []*models.Contact{
		{TenantID: "t1", Name: "Ann", Email: "ann@example.com", Status: "active"},
		{TenantID: "t1", Name: "Bob", Email: "bob@example.org", Status: "inactive"},
		{TenantID: "t2", Name: "Cy", Email: "cy@example.com", Status: "active"},
	} {
		require.NoError(t, store.Create(ctx, c))
	}

	w := api.do(t, http.MethodPost, "/api/v1/segments/preview", "t1", map[string]interface{}{
		"logic": "AND",
		"conditions": []map[string]interface{}{
			{"field": "status", "operator": "equals", "value": "active"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview services.SegmentPreview
	decode(t, w, &preview)
	assert.EqualValues(t, 1, preview.Total)
	require.Len(t, preview.Contacts, 1)
	assert.Equal(t, "Ann", preview.Contacts[0].Name)

	w = api.do(t, http.MethodPost, "/api/v1/segments/preview", "t1", map[string]interface{}{
		"conditions": []map[string]interface{}{
			{"field": "password", "operator": "equals", "value": "x"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_CreateAction(t *testing.T) {
	api := newTestAPI(t, false)
	w := api.do(t, http.MethodPost, "/api/v1/actions", "t1", map[string]interface{}{
		"title":    "Call the customer back",
		"priority": "low",
		"tags":     []string{" VIP ", "vip", "callback"},
		"tenantId": "someone-else",
		"status":   "resolved",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var action models.Action
	decode(t, w, &action)
	assert.Equal(t, "t1", action.TenantID)
	assert.Equal(t, models.ActionStatusPending, action.Status)
	assert.Equal(t, []string{"vip", "callback"}, []string(action.Tags))

	w = api.do(t, http.MethodPost, "/api/v1/actions", "t1", map[string]interface{}{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/actions?priority=low&page_size=5", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page PaginatedResponse
	decode(t, w, &page)
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)
	assert.Equal(t, 1, page.Pages)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Services["database"].Status)
	assert.Equal(t, "healthy", health.Services["insight"].Status)

	w = api.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":true`)
}
