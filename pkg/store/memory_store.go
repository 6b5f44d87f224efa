package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"clipscope/pkg/domain"
)

// MemoryStore keeps everything in-process. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	external map[string]string      // external id -> user ID
	subs     map[string]domain.Subscription
	usage    map[string]domain.Usage // key: userID|month
	records  []domain.ParseRecord
	audit    []domain.AuditLogEntry
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		external: make(map[string]string),
		subs:     make(map[string]domain.Subscription),
		usage:    make(map[string]domain.Usage),
	}
}

func usageKey(userID, month string) string {
	return userID + "|" + month
}

func (m *MemoryStore) GetUserByExternalID(externalID string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.external[externalID]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateUserIfAbsent(u domain.User, month string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.external[u.ExternalID]; ok {
		return m.users[id], false, nil
	}
	if _, ok := m.users[u.ID]; ok {
		return domain.User{}, false, fmt.Errorf("user id %s already exists", u.ID)
	}
	m.users[u.ID] = u
	m.external[u.ExternalID] = u.ID
	key := usageKey(u.ID, month)
	if _, ok := m.usage[key]; !ok {
		m.usage[key] = domain.Usage{UserID: u.ID, Month: month, UpdatedAt: u.CreatedAt}
	}
	return u, true, nil
}

func (m *MemoryStore) GetSubscription(userID string) (domain.Subscription, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[userID]
	return s, ok, nil
}

func (m *MemoryStore) SaveSubscription(s domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	m.subs[s.UserID] = s
	return nil
}

func (m *MemoryStore) GetUsage(userID, month string) (domain.Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.usage[usageKey(userID, month)]; ok {
		return u, nil
	}
	return domain.Usage{UserID: userID, Month: month}, nil
}

func (m *MemoryStore) IncrementUsage(userID, month string, kind domain.UsageKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(userID, month)
	u, ok := m.usage[key]
	if !ok {
		u = domain.Usage{UserID: userID, Month: month}
	}
	switch kind {
	case domain.UsageParse:
		u.Parses++
	case domain.UsageDownload:
		u.Downloads++
	default:
		return fmt.Errorf("unknown usage kind %q", kind)
	}
	u.UpdatedAt = time.Now().UTC()
	m.usage[key] = u
	return nil
}

func (m *MemoryStore) SumUsage(userID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var parses, downloads int
	for _, u := range m.usage {
		if u.UserID != userID {
			continue
		}
		parses += u.Parses
		downloads += u.Downloads
	}
	return parses, downloads, nil
}

func (m *MemoryStore) DeleteUsageBefore(month string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, u := range m.usage {
		if u.Month < month {
			delete(m.usage, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateParseRecord(r domain.ParseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.ID == r.ID {
			return fmt.Errorf("parse record %s already exists", r.ID)
		}
	}
	m.records = append(m.records, r)
	return nil
}

func (m *MemoryStore) GetParseRecordForUser(id, userID string) (domain.ParseRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == id && r.UserID == userID {
			return r, true, nil
		}
	}
	return domain.ParseRecord{}, false, nil
}

func (m *MemoryStore) ListParseRecords(userID string, limit int) ([]domain.ParseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = normalizeLimit(limit, 10)
	out := make([]domain.ParseRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// ParseRecordCount reports how many records exist. Test helper.
func (m *MemoryStore) ParseRecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) AppendAudit(e domain.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) matching(f domain.AuditFilter) []domain.AuditLogEntry {
	out := make([]domain.AuditLogEntry, 0)
	for _, e := range m.audit {
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Platform != "" && e.Platform != f.Platform {
			continue
		}
		if f.Success != nil && e.Success != *f.Success {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (m *MemoryStore) ListAudit(f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.matching(f)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return []domain.AuditLogEntry{}, nil
		}
		items = items[f.Offset:]
	}
	if limit := normalizeLimit(f.Limit, defaultAuditLimit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) AuditCounts(userID string) ([]domain.AuditCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type bucket struct {
		action  domain.AuditAction
		success bool
	}
	counts := make(map[bucket]int64)
	for _, e := range m.matching(domain.AuditFilter{UserID: userID}) {
		counts[bucket{e.Action, e.Success}]++
	}
	out := make([]domain.AuditCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, domain.AuditCount{Action: b.action, Success: b.success, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return !out[i].Success && out[j].Success
	})
	return out, nil
}

func (m *MemoryStore) AuditWindow(userID string, since time.Time) (domain.AuditWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var w domain.AuditWindow
	ips := make(map[string]struct{})
	for _, e := range m.matching(domain.AuditFilter{UserID: userID, Since: since}) {
		w.Total++
		if !e.Success {
			w.Failed++
		}
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}
	}
	w.DistinctIPs = int64(len(ips))
	return w, nil
}

func (m *MemoryStore) DeleteAuditBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.audit[:0]
	var n int64
	for _, e := range m.audit {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	return n, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
