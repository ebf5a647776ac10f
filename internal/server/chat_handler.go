package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/farm"
	"github.com/Vertexcore-AI/IoT/internal/influxdb"
)

const (
	chatTimeout            = 45 * time.Second
	maxQuestionLength      = 1000
	fluxSystemPromptHeader = "You are an assistant that writes Flux queries for InfluxDB. Use the schema below to translate the grower's question into one valid Flux query. Return ONLY the Flux code, with no explanation and no markdown fences."
	analysisSystemPrompt   = "You are an agronomist reading greenhouse telemetry. Answer the grower's question concisely from the CSV data provided, quoting values with their units. If the data is empty, say that no data is available for that period."
)

type chatQueryRequest struct {
	Question string `json:"question"`
}

// chatQuery turns a question into Flux, runs it, and has the model explain the result.
func (h *handlers) chatQuery(c *gin.Context) {
	if h.LLM == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "LLM client not configured"})
		return
	}
	if h.Influx == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "InfluxDB client not configured"})
		return
	}

	var req chatQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	if len(question) > maxQuestionLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is too long"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), chatTimeout)
	defer cancel()

	var devices []farm.Device
	if h.Fleet != nil {
		devices = h.Fleet.Devices()
	}
	prompt := buildFluxSystemPrompt(h.Influx.Config().Bucket, devices, time.Now().UTC())

	fluxRaw, err := h.LLM.GenerateText(ctx, prompt, question)
	if err != nil {
		h.logger.Warn("llm flux generation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to generate Flux query"})
		return
	}
	fluxQuery := normalizeFluxQuery(fluxRaw)
	if fluxQuery == "" {
		h.logger.Warn("llm returned empty flux query", zap.String("raw", fluxRaw))
		c.JSON(http.StatusBadGateway, gin.H{"error": "LLM produced an empty Flux query"})
		return
	}

	rawResult, err := h.Influx.QueryRaw(ctx, fluxQuery)
	if err != nil {
		h.logger.Warn("flux query execution failed", zap.String("query", fluxQuery), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "flux query execution failed", "fluxQuery": fluxQuery})
		return
	}

	answer, err := h.LLM.GenerateText(ctx, analysisSystemPrompt, buildAnalysisPrompt(question, rawResult))
	if err != nil {
		h.logger.Warn("llm analysis failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to interpret query result", "fluxQuery": fluxQuery, "data": rawResult})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"answer":    strings.TrimSpace(answer),
		"fluxQuery": fluxQuery,
		"data":      rawResult,
	})
}

func buildFluxSystemPrompt(bucket string, devices []farm.Device, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(fluxSystemPromptHeader)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Schema:\n- Bucket: %s\n- Measurement: %s\n- Numeric field: %q\n- Tags: %q, %q, %q\n",
		bucket, influxdb.Measurement, influxdb.FieldValue, influxdb.TagSensorID, influxdb.TagMetric, influxdb.TagSource)
	if list := describeDevices(devices); list != "" {
		sb.WriteString("\nKnown series:\n")
		sb.WriteString(list)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nCurrent time is %s. Always filter _field == %q and use a time range relevant to the question.\n",
		now.Format(time.RFC3339), influxdb.FieldValue)
	return sb.String()
}

func describeDevices(devices []farm.Device) string {
	entries := map[string]struct{}{
		fmt.Sprintf("- sensor_id=%q, metric=%q (climate station)", farm.ClimateStationID, "vpd"): {},
		`- sensor_id="WP01", metric="water_volume" (irrigation pump, mL per run)`:                {},
	}
	for _, d := range devices {
		entries[fmt.Sprintf("- sensor_id=%q, metric=%q (%s)", d.ID, d.Metric, d.Name)] = struct{}{}
	}
	out := make([]string, 0, len(entries))
	for e := range entries {
		out = append(out, e)
	}
	sort.Strings(out)
	return strings.Join(out, "\n")
}

func normalizeFluxQuery(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```flux")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func buildAnalysisPrompt(question, rawData string) string {
	cleanData := strings.TrimSpace(rawData)
	if cleanData == "" {
		cleanData = "(no rows)"
	}
	return fmt.Sprintf("Query result (CSV):\n%s\n\nGrower's question: %s\nGive a clear, short answer based on the data above.", cleanData, question)
}
