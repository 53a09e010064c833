package domain

// Well-known settings keys.
const (
	SettingQuery        = "sync.query"
	SettingPageSize     = "sync.page_size"
	SettingMaxRecords   = "sync.max_records"
	SettingInitialSince = "sync.initial_since"
	SettingRebuildFrom  = "sync.rebuild_from"
	SettingLastUpdate   = "sync.last_update"

	// SettingSyncLock holds the id of the run owning the exclusive sync
	// marker. An empty value means the marker is free.
	SettingSyncLock = "sync.lock"
)

// SettingsDateLayout is the layout for date-valued settings.
const SettingsDateLayout = "2006-01-02"

// WritableSettings lists the keys that configuration actions may change.
var WritableSettings = map[string]bool{
	SettingQuery:        true,
	SettingPageSize:     true,
	SettingMaxRecords:   true,
	SettingInitialSince: true,
	SettingRebuildFrom:  true,
}
