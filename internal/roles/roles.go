/*

This file contains the role model of the strategy contracts and the declarative hand-over of
roles from a deployer to its long-term holder.

Role IDs are keccak256 of the role name, as in the vault access-control contracts. A role
change is expressed as the difference between the current and the desired grant sets and is
applied atomically, grants first, so an account never loses a role before its replacement
holds it.

*/

package roles

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

var (
	AdminRole         = crypto.Keccak256Hash([]byte("admin"))
	AdminDelegateRole = crypto.Keccak256Hash([]byte("admin_delegate"))
	OperatorRole      = crypto.Keccak256Hash([]byte("operator"))
)

// All lists the roles in hand-over order.
var All = []common.Hash{AdminRole, AdminDelegateRole, OperatorRole}

var names = map[common.Hash]string{
	AdminRole:         "admin",
	AdminDelegateRole: "admin_delegate",
	OperatorRole:      "operator",
}

// Name returns the human name of a role, or its hex ID when unknown.
func Name(role common.Hash) string {
	if n, ok := names[role]; ok {
		return n
	}
	return role.Hex()
}

// Grant is one (role, account) pair.
type Grant struct {
	Role    common.Hash    `json:"role"`
	Account common.Address `json:"account"`
}

type ChangeKind string

const (
	ChangeGrant  ChangeKind = "GRANT"
	ChangeRevoke ChangeKind = "REVOKE"
)

// Change is one step of a role diff.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Grant
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s %s", c.Kind, Name(c.Role), c.Account.Hex())
}

// FullGrant returns every role for account, in hand-over order.
func FullGrant(account common.Address) []Grant {
	out := make([]Grant, len(All))
	for i, r := range All {
		out[i] = Grant{Role: r, Account: account}
	}
	return out
}

// Handover returns the diff moving every role from deployer to holder.
func Handover(deployer, holder common.Address) []Change {
	return Diff(FullGrant(deployer), FullGrant(holder))
}

// Diff returns the changes turning current into desired: every grant, then every revoke.
// Within each phase the order is deterministic.
func Diff(current, desired []Grant) []Change {
	have := toSet(current)
	want := toSet(desired)

	var grants, revokes []Change
	for g := range want {
		if !have[g] {
			grants = append(grants, Change{Kind: ChangeGrant, Grant: g})
		}
	}
	for g := range have {
		if !want[g] {
			revokes = append(revokes, Change{Kind: ChangeRevoke, Grant: g})
		}
	}
	sortChanges(grants)
	sortChanges(revokes)
	return append(grants, revokes...)
}

func toSet(grants []Grant) map[Grant]bool {
	set := make(map[Grant]bool, len(grants))
	for _, g := range grants {
		set[g] = true
	}
	return set
}

func roleRank(role common.Hash) int {
	for i, r := range All {
		if r == role {
			return i
		}
	}
	return len(All)
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if ra, rb := roleRank(a.Role), roleRank(b.Role); ra != rb {
			return ra < rb
		}
		if c := bytes.Compare(a.Role[:], b.Role[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Account[:], b.Account[:]) < 0
	})
}

// Registry is an in-process role table. It is the administrative gate of the strategy factory.
type Registry struct {
	mu     sync.RWMutex
	grants map[Grant]bool
}

// NewRegistry returns a registry holding the initial grants.
func NewRegistry(initial ...Grant) *Registry {
	return &Registry{grants: toSet(initial)}
}

// Has reports whether account holds role.
func (r *Registry) Has(role common.Hash, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[Grant{Role: role, Account: account}]
}

// IsAdmin reports whether account holds the admin or admin delegate role.
func (r *Registry) IsAdmin(account common.Address) bool {
	return r.Has(AdminRole, account) || r.Has(AdminDelegateRole, account)
}

// IsOperator reports whether account may trigger rebalances.
func (r *Registry) IsOperator(account common.Address) bool {
	return r.Has(OperatorRole, account) || r.IsAdmin(account)
}

// Apply executes a diff on behalf of caller. Either every change applies or none does:
// the caller must be an admin, each change must be effective, and at least one admin must
// remain afterwards.
func (r *Registry) Apply(caller common.Address, changes []Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.grants[Grant{AdminRole, caller}] && !r.grants[Grant{AdminDelegateRole, caller}] {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s is not an admin", caller.Hex())
	}

	next := make(map[Grant]bool, len(r.grants))
	for g := range r.grants {
		next[g] = true
	}
	for i, c := range changes {
		switch c.Kind {
		case ChangeGrant:
			if next[c.Grant] {
				return errorsmod.Wrapf(types.ErrInvalidConfig, "change %d: %s already held", i, c)
			}
			next[c.Grant] = true
		case ChangeRevoke:
			if !next[c.Grant] {
				return errorsmod.Wrapf(types.ErrInvalidConfig, "change %d: %s not held", i, c)
			}
			delete(next, c.Grant)
		default:
			return errorsmod.Wrapf(types.ErrInvalidConfig, "change %d: unknown kind %q", i, c.Kind)
		}
	}

	hasAdmin := false
	for g := range next {
		if g.Role == AdminRole {
			hasAdmin = true
			break
		}
	}
	if !hasAdmin {
		return errorsmod.Wrap(types.ErrInvalidConfig, "changes would leave no admin")
	}

	r.grants = next
	return nil
}

// Grants returns every grant in deterministic order.
func (r *Registry) Grants() []Grant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	changes := make([]Change, 0, len(r.grants))
	for g := range r.grants {
		changes = append(changes, Change{Grant: g})
	}
	sortChanges(changes)
	out := make([]Grant, len(changes))
	for i, c := range changes {
		out[i] = c.Grant
	}
	return out
}
