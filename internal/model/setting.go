package model

import "time"

// Setting is one key/value entry of the global settings store.
type Setting struct {
	Key         string
	Value       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Settings keys consumed by the application.
const (
	SettingSpreadsheetID       = "spreadsheet_id"
	SettingSheetName           = "sheet_name"
	SettingTokenFile           = "token_file"
	SettingProxyURL            = "proxy_url"
	SettingParameterPositions  = "parameter_positions"
	SettingCheckPositions      = "check_positions"
	SettingResultPositions     = "result_positions"
	SettingDelayMin            = "execution_delay_min"
	SettingDelayMax            = "execution_delay_max"
	SettingMaxPollAttempts     = "max_poll_attempts"
	SettingMaxConcurrentTasks  = "max_concurrent_tasks"
	SettingStaleTaskThreshold  = "stale_task_threshold"
	SettingAggregatorBaseURL   = "aggregator_base_url"
	SettingNotifyWebhookURL    = "notify_webhook_url"
	SettingNotifyWebhookToken  = "notify_webhook_token"
	SettingNotifyWebhookSecret = "notify_webhook_secret"
	SettingExternalBaseURL     = "external_base_url"
)
