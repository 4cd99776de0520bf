package models

// WebsitesKey is the storage key holding the website list.
const WebsitesKey = "websites"

// HeaderRulesKey is the storage key holding the header rule list.
const HeaderRulesKey = "headerRules"

// StorageTypeKey records which backend is authoritative. Kept in the local backend only.
const StorageTypeKey = "hm_storage_type"

// MigrationKey marks that the one-time startup migration check has run.
const MigrationKey = "hm_storage_migration_v1"

// ConfigKeys lists the user data keys read on every reload.
var ConfigKeys = []string{HeaderRulesKey, WebsitesKey}

// IsBookkeepingKey reports whether key is internal selector state rather than user data.
func IsBookkeepingKey(key string) bool {
	return key == StorageTypeKey || key == MigrationKey
}
