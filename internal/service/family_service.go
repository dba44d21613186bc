package service

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

type familyAccountRepository interface {
	ListStudentsByEmailDomain(ctx context.Context, domain string) ([]models.User, error)
}

// FamilyService computes the family equivalence class for a principal.
//
// A family is the set of live student accounts sharing one normalized
// email identity: same domain, same local part once any "+tag" suffix
// is stripped, compared case-insensitively. Guardians register their
// children as "parent+child@domain" aliases, so the shared base
// identity is what ties a family together.
//
// Membership is recomputed from live data on every call and never
// cached: an email edit must change family membership immediately.
type FamilyService struct {
	repo   familyAccountRepository
	logger *zap.Logger
}

// NewFamilyService constructs the service.
func NewFamilyService(repo familyAccountRepository, logger *zap.Logger) *FamilyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FamilyService{repo: repo, logger: logger}
}

// SplitEmail breaks an address into its normalized base local part and
// domain. ok is false when the address has no usable "@" separator.
func SplitEmail(email string) (base, domain string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	local := strings.ToLower(email[:at])
	domain = strings.ToLower(email[at+1:])
	if plus := strings.Index(local, "+"); plus >= 0 {
		local = local[:plus]
	}
	return local, domain, true
}

// Resolve returns the account ids forming the principal's family.
//
// The result always contains the principal's own id, so a guardian
// account with no child aliases still resolves to itself. Teachers and
// admins never aggregate: their family is the singleton.
func (s *FamilyService) Resolve(ctx context.Context, principal models.Principal) ([]string, error) {
	if principal.Role != models.RoleStudent {
		return []string{principal.ID}, nil
	}

	base, domain, ok := SplitEmail(principal.Email)
	if !ok {
		// A malformed email still resolves to a non-empty family.
		return []string{principal.ID}, nil
	}

	candidates, err := s.repo.ListStudentsByEmailDomain(ctx, domain)
	if err != nil {
		return nil, wrapStore(err, "failed to resolve family")
	}

	members := map[string]struct{}{principal.ID: {}}
	for _, candidate := range candidates {
		candidateBase, candidateDomain, ok := SplitEmail(candidate.Email)
		if !ok {
			continue
		}
		if candidateBase == base && candidateDomain == domain {
			members[candidate.ID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Contains reports whether accountID belongs to the principal's family.
func (s *FamilyService) Contains(ctx context.Context, principal models.Principal, accountID string) (bool, error) {
	family, err := s.Resolve(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, id := range family {
		if id == accountID {
			return true, nil
		}
	}
	return false, nil
}
