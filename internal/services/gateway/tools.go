package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ToolDefinition describes a tool in the tools/list catalog.
type ToolDefinition struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	ReadOnlyHint bool                   `json:"readOnlyHint,omitempty"`
	Meta         map[string]interface{} `json:"_meta,omitempty"`
}

// Toolset executes the campaign tooling behind the gateway. Handlers return a
// conversational summary, structured content for the model, and widget
// metadata kept out of the model's view.
type Toolset struct {
	config Config
	clock  func() time.Time
}

// NewToolset builds the tool catalog bound to config.
func NewToolset(config Config) *Toolset {
	return &Toolset{config: config, clock: time.Now}
}

func (t *Toolset) challenge() string {
	return fmt.Sprintf("Bearer realm=%q, scope=%q", t.config.ResourceServerURL, t.config.RequiredScope)
}

// Definitions returns the tool catalog for tools/list.
func (t *Toolset) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "siac.validate_template",
			Description: "Use this when you need to validate a WhatsApp message template for compliance, quality, and approval status before sending campaigns.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"template_name": map[string]interface{}{
						"type":        "string",
						"description": "Name of the template to validate",
					},
					"body_text": map[string]interface{}{
						"type":        "string",
						"description": "The body text content of the template",
					},
					"category": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"Marketing", "Utility", "Authentication"},
						"description": "Template category (Marketing, Utility, or Authentication)",
					},
					"language_code": map[string]interface{}{
						"type":        "string",
						"description": "Language code for the template (e.g., 'es_ES', 'en_US')",
					},
				},
				"required": []string{"template_name", "body_text", "category", "language_code"},
			},
			ReadOnlyHint: true,
			Meta: map[string]interface{}{
				"openai/outputTemplate": "ui://widget/TemplateValidationCard.html",
			},
		},
		{
			Name:        "siac.get_campaign_metrics",
			Description: "Use this when you need to retrieve detailed metrics and performance data for a specific campaign to analyze delivery rates, status, and quality scores.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"campaign_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID string identifier of the campaign to query",
					},
				},
				"required": []string{"campaign_id"},
			},
			ReadOnlyHint: true,
			Meta: map[string]interface{}{
				"openai/outputTemplate": "ui://widget/CampaignMetricsWidget.html",
			},
		},
		{
			Name:        "siac.register_template",
			Description: "Use this when you need to register a validated template in the SIAC system and submit it to Meta for final approval. This action requires user confirmation.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"template_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID string identifier of the template to register",
					},
					"meta_template_id": map[string]interface{}{
						"type":        "string",
						"description": "Meta template ID after upload to Meta system",
					},
					"client_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID string identifier of the client for traceability",
					},
				},
				"required": []string{"template_id", "meta_template_id", "client_id"},
			},
			Meta: map[string]interface{}{
				"openai/widgetAccessible":        true,
				"openai/toolInvocation/invoking": "Registering template in SIAC and Meta systems...",
				"openai/toolInvocation/invoked":  "Template registered and submitted for final Meta review.",
				"mcp/www_authenticate":           t.challenge(),
			},
		},
		{
			Name:        "siac.send_broadcast",
			Description: "Use this when you need to schedule and send a broadcast campaign to a specific customer segment using an approved template. This action requires user confirmation.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"template_id": map[string]interface{}{
						"type":        "string",
						"description": "UUID string identifier of the approved template to send",
					},
					"segment_name": map[string]interface{}{
						"type":        "string",
						"description": "Name of the customer segment to target (e.g., 'clientes_recurrentes')",
					},
					"schedule_time_utc": map[string]interface{}{
						"type":        "string",
						"description": "Scheduled date and time for sending in UTC format (ISO 8601)",
					},
				},
				"required": []string{"template_id", "segment_name", "schedule_time_utc"},
			},
			Meta: map[string]interface{}{
				"openai/outputTemplate":          "ui://widget/BroadcastConfirmationCard.html",
				"openai/toolInvocation/invoking": "Validating audience and scheduling broadcast...",
				"openai/toolInvocation/invoked":  "Broadcast successfully scheduled.",
				"mcp/www_authenticate":           t.challenge(),
			},
		},
	}
}

// Execute runs the named tool. Unknown tools return an error the dispatcher
// maps to a method-not-found failure.
func (t *Toolset) Execute(ctx context.Context, name string, args map[string]interface{}) (string, map[string]interface{}, map[string]interface{}, error) {
	_ = ctx
	switch name {
	case "siac.validate_template":
		summary, structured, meta := t.validateTemplate(args)
		return summary, structured, meta, nil
	case "siac.get_campaign_metrics":
		summary, structured, meta := t.campaignMetrics(args)
		return summary, structured, meta, nil
	case "siac.register_template":
		summary, structured, meta := t.registerTemplate(args)
		return summary, structured, meta, nil
	case "siac.send_broadcast":
		summary, structured, meta := t.sendBroadcast(args)
		return summary, structured, meta, nil
	default:
		return "", nil, nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func stringArg(args map[string]interface{}, key, fallback string) string {
	if value, ok := args[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func (t *Toolset) validateTemplate(args map[string]interface{}) (string, map[string]interface{}, map[string]interface{}) {
	templateName := stringArg(args, "template_name", "Unknown Template")
	bodyText := stringArg(args, "body_text", "")
	category := stringArg(args, "category", "Marketing")
	languageCode := stringArg(args, "language_code", "es_ES")

	status := "SUCCESS"
	passed := true
	var errors []map[string]interface{}

	lower := strings.ToLower(bodyText)
	switch {
	case len(bodyText) < 10:
		status = "FAILED"
		passed = false
		errors = append(errors, map[string]interface{}{
			"field":      "body_text",
			"message":    "Template body too short for Meta requirements",
			"severity":   "error",
			"suggestion": "Add more descriptive content to meet minimum length requirements",
		})
	case strings.Contains(lower, "spam") || strings.Contains(lower, "urgent"):
		status = "FAILED"
		passed = false
		errors = append(errors, map[string]interface{}{
			"field":      "body_text",
			"message":    "Contains prohibited promotional language",
			"severity":   "error",
			"suggestion": "Remove promotional keywords and use professional tone",
		})
	case strings.Contains(bodyText, "{{") && !strings.Contains(bodyText, "}}"):
		status = "FAILED"
		passed = false
		errors = append(errors, map[string]interface{}{
			"field":      "body_text",
			"message":    "Mismatched curly braces in template variables",
			"severity":   "error",
			"suggestion": "Ensure all {{variable}} placeholders are properly closed",
		})
	case strings.HasPrefix(bodyText, "{{") || strings.HasSuffix(bodyText, "}}"):
		status = "FAILED"
		passed = false
		errors = append(errors, map[string]interface{}{
			"field":      "body_text",
			"message":    "Template cannot start or end with a parameter",
			"severity":   "error",
			"suggestion": "Add descriptive text before the first parameter and after the last parameter",
		})
	case category == "Marketing" && len(bodyText) > 1000:
		errors = append(errors, map[string]interface{}{
			"field":      "body_text",
			"message":    "Marketing template exceeds recommended length",
			"severity":   "warning",
			"suggestion": "Consider shortening the message for better engagement",
		})
	}

	structured := map[string]interface{}{
		"validation_status":      status,
		"template_name":          templateName,
		"passed_internal_checks": passed,
		"category":               category,
		"language_code":          languageCode,
	}

	summary := fmt.Sprintf("Template '%s' validation completed successfully. The template passed all Meta compliance checks and is ready for registration.", templateName)
	if status != "SUCCESS" {
		summary = fmt.Sprintf("Template '%s' validation failed. The template requires corrections before it can be submitted to Meta for approval.", templateName)
	}

	meta := map[string]interface{}{
		"raw_payload_for_preview": map[string]interface{}{
			"template_name": templateName,
			"body_text":     bodyText,
			"category":      category,
			"language_code": languageCode,
			"validation_rules_applied": []string{
				"Minimum length check",
				"Spam content detection",
				"Variable syntax validation",
				"Parameter placement validation",
				"Category-specific length limits",
			},
			"validation_timestamp":  t.clock().UTC().Format(time.RFC3339),
			"estimated_review_time": "24-48 hours",
		},
		"raw_validation_errors": map[string]interface{}{
			"errors":         errors,
			"overall_status": status,
		},
	}
	return summary, structured, meta
}

func (t *Toolset) campaignMetrics(args map[string]interface{}) (string, map[string]interface{}, map[string]interface{}) {
	campaignID := stringArg(args, "campaign_id", "unknown")

	deliveryRate := 0.95
	status := "COMPLETED"
	qualityScore := "GREEN"
	pacingActive := false
	var metaErrors []map[string]interface{}

	lower := strings.ToLower(campaignID)
	switch {
	case strings.Contains(lower, "test"):
		deliveryRate = 0.87
		status = "RUNNING"
		qualityScore = "YELLOW"
		pacingActive = true
	case strings.Contains(lower, "demo"):
		deliveryRate = 0.99
	case strings.Contains(lower, "error"):
		deliveryRate = 0.45
		status = "FAILED"
		qualityScore = "RED"
		metaErrors = []map[string]interface{}{
			{
				"error_code":    131049,
				"error_message": "Marketing message limit per user exceeded",
				"count":         150,
			},
			{
				"error_code":    131026,
				"error_message": "Message failed to send",
				"count":         125,
			},
		}
	case strings.Contains(lower, "pacing"):
		deliveryRate = 0.92
		status = "RUNNING"
		qualityScore = "YELLOW"
		pacingActive = true
	}

	const totalSent = 1250
	delivered := int(totalSent * deliveryRate)
	failed := totalSent - delivered

	structured := map[string]interface{}{
		"campaign_id":   campaignID,
		"delivery_rate": deliveryRate,
		"status":        status,
		"quality_score": qualityScore,
		"total_sent":    totalSent,
		"delivered":     delivered,
		"failed":        failed,
	}

	summary := fmt.Sprintf("Campaign %s metrics retrieved. Status: %s, Delivery Rate: %.1f%%, Quality Score: %s.",
		campaignID, status, deliveryRate*100, qualityScore)
	switch status {
	case "COMPLETED":
		summary += " The campaign has finished successfully with excellent performance."
	case "RUNNING":
		summary += " The campaign is currently active and performing well."
	case "FAILED":
		summary += " The campaign encountered issues and may need attention."
	}

	heldMessages := 0
	var pacingReason interface{}
	if pacingActive {
		heldMessages = 45
		pacingReason = "Evaluación de calidad por Meta"
	}

	meta := map[string]interface{}{
		"campaign_id":   campaignID,
		"delivery_rate": deliveryRate,
		"status":        status,
		"quality_score": qualityScore,
		"total_sent":    totalSent,
		"delivered":     delivered,
		"failed":        failed,
		"pacing_status": map[string]interface{}{
			"template_pacing_active": pacingActive,
			"held_messages":          heldMessages,
			"pacing_reason":          pacingReason,
		},
		"cost_analysis": map[string]interface{}{
			"total_cost":       float64(totalSent) * 0.015,
			"cost_per_message": 0.015,
		},
		"meta_errors": metaErrors,
	}
	return summary, structured, meta
}

func (t *Toolset) registerTemplate(args map[string]interface{}) (string, map[string]interface{}, map[string]interface{}) {
	templateID := stringArg(args, "template_id", "unknown")
	metaTemplateID := stringArg(args, "meta_template_id", "unknown")
	clientID := stringArg(args, "client_id", "unknown")

	status := "REGISTRATION_COMPLETE"
	lower := strings.ToLower(templateID)
	switch {
	case strings.Contains(lower, "invalid"):
		status = "REGISTRATION_FAILED"
	case strings.Contains(lower, "pending"):
		status = "PENDING_META_REVIEW"
	}

	reviewStatus := "SUBMITTED"
	if status != "REGISTRATION_COMPLETE" {
		reviewStatus = "FAILED"
	}

	now := t.clock().UTC().Format(time.RFC3339)
	structured := map[string]interface{}{
		"status":                 status,
		"template_id":            templateID,
		"meta_template_id":       metaTemplateID,
		"client_id":              clientID,
		"registration_timestamp": now,
		"meta_review_status":     reviewStatus,
	}

	var summary string
	switch status {
	case "REGISTRATION_COMPLETE":
		summary = fmt.Sprintf("Template %s has been successfully registered in SIAC and submitted to Meta for final review. Meta Template ID: %s", templateID, metaTemplateID)
	case "PENDING_META_REVIEW":
		summary = fmt.Sprintf("Template %s registration is in progress. Meta review is pending.", templateID)
	default:
		summary = fmt.Sprintf("Template %s registration failed. Please check the template data and try again.", templateID)
	}

	meta := map[string]interface{}{
		"registration_details": map[string]interface{}{
			"template_id":                templateID,
			"meta_template_id":           metaTemplateID,
			"client_id":                  clientID,
			"registration_method":        "API",
			"submitted_by":               "system",
			"estimated_meta_review_time": "24-72 hours",
		},
		"next_steps": []string{
			"Monitor Meta review status",
			"Update template status in SIAC",
			"Notify stakeholders of submission",
		},
		"audit_trail": map[string]interface{}{
			"created_at": now,
			"action":     "template_registration",
			"client_id":  clientID,
		},
	}
	return summary, structured, meta
}

func (t *Toolset) sendBroadcast(args map[string]interface{}) (string, map[string]interface{}, map[string]interface{}) {
	templateID := stringArg(args, "template_id", "unknown")
	segmentName := stringArg(args, "segment_name", "unknown")
	scheduleTime := stringArg(args, "schedule_time_utc", "unknown")

	now := t.clock().UTC()
	campaignID := fmt.Sprintf("campaign_%s_%d", templateID, now.Unix())

	status := "SCHEDULED"
	recipients := 1000
	lower := strings.ToLower(segmentName)
	switch {
	case strings.Contains(lower, "test"):
		recipients = 50
		status = "SCHEDULED_TEST"
	case strings.Contains(lower, "premium"):
		recipients = 5000
	case strings.Contains(lower, "invalid"):
		status = "SCHEDULING_FAILED"
		recipients = 0
	}

	structured := map[string]interface{}{
		"campaign_id":          campaignID,
		"template_id":          templateID,
		"segment_name":         segmentName,
		"schedule_time_utc":    scheduleTime,
		"status":               status,
		"estimated_recipients": recipients,
		"scheduled_at":         now.Format(time.RFC3339),
	}

	var summary string
	switch status {
	case "SCHEDULED":
		summary = fmt.Sprintf("Broadcast campaign %s has been successfully scheduled for %s. Target segment: %s, Estimated recipients: %d", campaignID, scheduleTime, segmentName, recipients)
	case "SCHEDULED_TEST":
		summary = fmt.Sprintf("Test broadcast campaign %s scheduled for %s. This is a test segment with %d recipients.", campaignID, scheduleTime, recipients)
	default:
		summary = fmt.Sprintf("Broadcast scheduling failed for template %s. Please verify the segment name and schedule time.", templateID)
	}

	meta := map[string]interface{}{
		"campaign_details": map[string]interface{}{
			"campaign_id":          campaignID,
			"template_id":          templateID,
			"segment_name":         segmentName,
			"schedule_time_utc":    scheduleTime,
			"estimated_recipients": recipients,
			"status":               status,
		},
		"segment_analysis": map[string]interface{}{
			"segment_name":        segmentName,
			"total_customers":     recipients,
			"delivery_estimate":   fmt.Sprintf("%.0f", float64(recipients)*0.95),
			"cost_estimate":       fmt.Sprintf("%.2f", float64(recipients)*0.015),
			"expected_completion": "2-4 hours",
		},
		"scheduling_info": map[string]interface{}{
			"scheduled_at":      now.Format(time.RFC3339),
			"schedule_time_utc": scheduleTime,
			"timezone":          "UTC",
			"status":            status,
		},
		"monitoring": map[string]interface{}{
			"tracking_enabled":  true,
			"metrics_available": true,
			"real_time_updates": true,
		},
	}
	return summary, structured, meta
}
