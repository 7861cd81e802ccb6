package settings

import "github.com/stplan/sheetsweep/internal/model"

// Defaults returns the settings seeded on a fresh installation. Values left
// empty are placeholders the operator fills in before running sweeps.
func Defaults() []model.Setting {
	return []model.Setting{
		{Key: model.SettingSpreadsheetID, Value: "", Description: "Default spreadsheet ID for new tasks."},
		{Key: model.SettingSheetName, Value: "Sheet1", Description: "Default worksheet name for new tasks."},
		{Key: model.SettingTokenFile, Value: "", Description: "Path to the Google credentials JSON file."},
		{Key: model.SettingProxyURL, Value: "", Description: "HTTP proxy for Google Sheets API traffic."},
		{Key: model.SettingParameterPositions, Value: "[]", Description: "Default parameter cell addresses (JSON array)."},
		{Key: model.SettingCheckPositions, Value: "[]", Description: "Default check cell addresses (JSON array)."},
		{Key: model.SettingResultPositions, Value: "[]", Description: "Default result cell addresses (JSON array)."},
		{Key: model.SettingDelayMin, Value: "30", Description: "Minimum seconds to wait between poll attempts."},
		{Key: model.SettingDelayMax, Value: "60", Description: "Maximum seconds to wait between poll attempts."},
		{Key: model.SettingMaxPollAttempts, Value: "30", Description: "Poll attempts before a combination is given up."},
		{Key: model.SettingMaxConcurrentTasks, Value: "5", Description: "Maximum sweeps running at the same time."},
		{Key: model.SettingStaleTaskThreshold, Value: "600", Description: "Seconds of silence before a running task is considered dead."},
		{Key: model.SettingAggregatorBaseURL, Value: "", Description: "Base URL of the aggregation API (empty disables forwarding)."},
		{Key: model.SettingNotifyWebhookURL, Value: "", Description: "Webhook URL for finish notifications (empty disables them)."},
		{Key: model.SettingNotifyWebhookSecret, Value: "", Description: "HMAC secret used to sign webhook notifications."},
		{Key: model.SettingExternalBaseURL, Value: "http://localhost:8080", Description: "Public base URL used in notification deep links."},
	}
}
