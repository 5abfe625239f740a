package userstore

import (
	"encoding/json"
	"time"
)

// Opt status values mirrored between cache and backing store.
const (
	StatusOptIn  = "opt-in"
	StatusOptOut = "opt-out"
)

// TemplateLocked marks a user currently held inside a templated flow.
const TemplateLocked = "locked"

// UserRecord is the cached, live-traffic view of a club member. The cache
// copy is authoritative while it lives; the backing store is the
// eventually-consistent durable copy.
type UserRecord struct {
	WAID               string
	RecordID           string // empty until the first create batch lands
	FullName           string
	IDType             string
	IDNumber           string
	BirthDate          string
	Preferences        string
	OptStatus          string
	OptStatusChangedAt string
	Threads            map[string]string // agent name -> thread id
	TemplateStatus     string
	TemplateName       string
	ContextFileID      string
	LastSeenAt         string
}

// Registration carries the data gathered by the registration flow.
type Registration struct {
	FullName  string
	IDType    string
	IDNumber  string
	BirthDate string
	MoreAbout string
}

// OptedOut reports whether the member has opted out of club messaging.
func (u *UserRecord) OptedOut() bool {
	return u.OptStatus == StatusOptOut
}

// TemplateLockActive reports whether the member is locked on a template flow.
func (u *UserRecord) TemplateLockActive() bool {
	return u.TemplateStatus == TemplateLocked
}

func (u *UserRecord) toFields() map[string]string {
	threads := ""
	if len(u.Threads) > 0 {
		if data, err := json.Marshal(u.Threads); err == nil {
			threads = string(data)
		}
	}
	return map[string]string{
		"waid":                  u.WAID,
		"record_id":             u.RecordID,
		"full_name":             u.FullName,
		"id_type":               u.IDType,
		"id_number":             u.IDNumber,
		"birth_date":            u.BirthDate,
		"preferences":           u.Preferences,
		"opt_status":            u.OptStatus,
		"opt_status_changed_at": u.OptStatusChangedAt,
		"agent_threads":         threads,
		"template_status":       u.TemplateStatus,
		"template_name":         u.TemplateName,
		"context_file_id":       u.ContextFileID,
		"last_seen_at":          u.LastSeenAt,
	}
}

// recordFromFields decodes a cached hash. Malformed thread payloads are
// reported through the second return so the caller can log them; the
// record itself degrades to an empty thread map.
func recordFromFields(fields map[string]string) (*UserRecord, error) {
	u := &UserRecord{
		WAID:               fields["waid"],
		RecordID:           fields["record_id"],
		FullName:           fields["full_name"],
		IDType:             fields["id_type"],
		IDNumber:           fields["id_number"],
		BirthDate:          fields["birth_date"],
		Preferences:        fields["preferences"],
		OptStatus:          fields["opt_status"],
		OptStatusChangedAt: fields["opt_status_changed_at"],
		TemplateStatus:     fields["template_status"],
		TemplateName:       fields["template_name"],
		ContextFileID:      fields["context_file_id"],
		LastSeenAt:         fields["last_seen_at"],
		Threads:            map[string]string{},
	}
	if u.OptStatus == "" {
		u.OptStatus = StatusOptIn
	}

	var decodeErr error
	if raw := fields["agent_threads"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &u.Threads); err != nil {
			u.Threads = map[string]string{}
			decodeErr = err
		}
	}
	return u, decodeErr
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
