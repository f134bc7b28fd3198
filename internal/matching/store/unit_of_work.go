package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"organmatch/internal/matching/models"
	"organmatch/internal/storage"
	id "organmatch/pkg/domain"
	"organmatch/pkg/platform/sentinel"
)

const (
	keyProgram      = "program"
	prefixAuthority = "authority/"
	prefixRecipient = "recipient/"
	prefixDonor     = "donor/"
	prefixMatch     = "match/"
)

func authorityKey(a id.AccountID) string { return prefixAuthority + a.String() }
func recipientKey(a id.AccountID) string { return prefixRecipient + a.String() }
func donorKey(d id.DonorID) string { return prefixDonor + d.String() }
func matchKey(m id.MatchID) string { return prefixMatch + m.String() }

// UnitOfWork buffers writes and tracks the versions its reads observed.
// It is not safe for concurrent use.
type UnitOfWork struct {
	backend  storage.Backend
	observed map[string]uint64
	pending  map[string][]byte
	order    []string
}

func newUnitOfWork(backend storage.Backend) *UnitOfWork {
	return &UnitOfWork{
		backend:  backend,
		observed: make(map[string]uint64),
		pending:  make(map[string][]byte),
	}
}

// Program returns the singleton or sentinel.ErrNotFound before initialize.
func (u *UnitOfWork) Program(ctx context.Context) (*models.ProgramState, error) {
	var p models.ProgramState
	v, err := u.get(ctx, keyProgram, &p)
	if err != nil {
		return nil, err
	}
	p.Version = v
	return &p, nil
}

func (u *UnitOfWork) PutProgram(p *models.ProgramState) error {
	return u.put(keyProgram, p)
}

func (u *UnitOfWork) Authority(ctx context.Context, authority id.AccountID) (*models.MedicalAuthority, error) {
	var a models.MedicalAuthority
	v, err := u.get(ctx, authorityKey(authority), &a)
	if err != nil {
		return nil, err
	}
	a.Version = v
	return &a, nil
}

func (u *UnitOfWork) PutAuthority(a *models.MedicalAuthority) error {
	return u.put(authorityKey(a.Authority), a)
}

// Recipient looks a recipient up by its owning patient identity.
func (u *UnitOfWork) Recipient(ctx context.Context, patient id.AccountID) (*models.Recipient, error) {
	var r models.Recipient
	v, err := u.get(ctx, recipientKey(patient), &r)
	if err != nil {
		return nil, err
	}
	r.Version = v
	return &r, nil
}

func (u *UnitOfWork) PutRecipient(r *models.Recipient) error {
	return u.put(recipientKey(r.Authority), r)
}

// Recipients lists every recipient ordered by key, including ones written
// earlier in this unit of work.
func (u *UnitOfWork) Recipients(ctx context.Context) ([]*models.Recipient, error) {
	items, err := u.scan(ctx, prefixRecipient)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Recipient, 0, len(items))
	for _, it := range items {
		var r models.Recipient
		if err := decode(it, &r); err != nil {
			return nil, err
		}
		r.Version = it.Version
		out = append(out, &r)
	}
	return out, nil
}

func (u *UnitOfWork) Donor(ctx context.Context, donorID id.DonorID) (*models.Donor, error) {
	var d models.Donor
	v, err := u.get(ctx, donorKey(donorID), &d)
	if err != nil {
		return nil, err
	}
	d.Version = v
	return &d, nil
}

func (u *UnitOfWork) PutDonor(d *models.Donor) error {
	return u.put(donorKey(d.ID), d)
}

func (u *UnitOfWork) Match(ctx context.Context, matchID id.MatchID) (*models.Match, error) {
	var m models.Match
	v, err := u.get(ctx, matchKey(matchID), &m)
	if err != nil {
		return nil, err
	}
	m.Version = v
	return &m, nil
}

func (u *UnitOfWork) PutMatch(m *models.Match) error {
	return u.put(matchKey(m.ID), m)
}

// Dirty reports whether any write is buffered.
func (u *UnitOfWork) Dirty() bool { return len(u.order) > 0 }

func (u *UnitOfWork) get(ctx context.Context, key string, dst any) (uint64, error) {
	if raw, ok := u.pending[key]; ok {
		if err := json.Unmarshal(raw, dst); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", sentinel.ErrCorrupt, key, err)
		}
		return u.observed[key], nil
	}
	it, err := u.backend.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		u.observe(key, 0)
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	u.observe(key, it.Version)
	if err := decode(it, dst); err != nil {
		return 0, err
	}
	return it.Version, nil
}

// observe keeps the first version seen so the commit validates against the
// state this unit of work started from.
func (u *UnitOfWork) observe(key string, version uint64) {
	if _, seen := u.observed[key]; !seen {
		u.observed[key] = version
	}
}

func (u *UnitOfWork) scan(ctx context.Context, prefix string) ([]storage.Item, error) {
	items, err := u.backend.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]storage.Item, len(items))
	for _, it := range items {
		u.observe(it.Key, it.Version)
		byKey[it.Key] = it
	}
	for key, raw := range u.pending {
		if strings.HasPrefix(key, prefix) {
			byKey[key] = storage.Item{Key: key, Version: u.observed[key], Value: raw}
		}
	}
	out := make([]storage.Item, 0, len(byKey))
	for _, it := range byKey {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (u *UnitOfWork) put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, buffered := u.pending[key]; !buffered {
		u.order = append(u.order, key)
	}
	// A put without a prior read is a create: the key must still be absent.
	u.observe(key, 0)
	u.pending[key] = raw
	return nil
}

func (u *UnitOfWork) commit(ctx context.Context) error {
	if len(u.order) == 0 {
		return nil
	}
	writes := make([]storage.Write, 0, len(u.order))
	for _, key := range u.order {
		writes = append(writes, storage.Write{Key: key, Expected: u.observed[key], Value: u.pending[key]})
	}
	return u.backend.Commit(ctx, writes)
}

func decode(it storage.Item, dst any) error {
	if err := json.Unmarshal(it.Value, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", sentinel.ErrCorrupt, it.Key, err)
	}
	return nil
}
