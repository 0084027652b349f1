package registry

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github/tokenvest/go-gateway/internal/gateway/signer"
)

// Provisioner is the external wallet-provisioning collaborator. The
// custodial signing client implements it.
type Provisioner interface {
	ProvisionWallets(ctx context.Context, chainTags []string) ([]*signer.Wallet, error)
}

// Service manages user-role wallet aggregates.
type Service interface {
	// GetOrCreateWallet is idempotent: an existing (userID, role) record
	// is returned as-is, otherwise wallets are provisioned for the
	// requested chains and persisted. Concurrent calls for the same key
	// are serialized.
	GetOrCreateWallet(ctx context.Context, userID, role string, chains []string) (*UserWallet, error)

	// AddChains provisions wallets on additional chains. Already-present
	// chains are no-ops. EOA-style wallet identities are reused where the
	// provisioner supports it.
	AddChains(ctx context.Context, userID, role string, chains []string) (*UserWallet, error)

	// LinkExternalAddress attaches a self-custodied address to the
	// user-role. Fails with *ConflictError when another user-role already
	// claims it; no mutation is performed on failure.
	LinkExternalAddress(ctx context.Context, userID, role, address string) (*UserWallet, error)

	// FindByAddress scans all registered wallets and linked external
	// addresses, case-normalized. Returns nil when no wallet matches.
	FindByAddress(ctx context.Context, address string) (*UserWallet, error)

	// Wallet returns the (userID, role) aggregate, or nil.
	Wallet(ctx context.Context, userID, role string) (*UserWallet, error)

	// Freeze and Unfreeze toggle the account state.
	Freeze(ctx context.Context, userID, role string) error
	Unfreeze(ctx context.Context, userID, role string) error

	// TouchLogin records a login timestamp.
	TouchLogin(ctx context.Context, userID, role string) error
}

type service struct {
	store       *Store
	provisioner Provisioner
	creating    singleflight.Group
}

// NewService creates the wallet registry.
//
//nolint:ireturn // Returning interface is intentional for DI
func NewService(store *Store, provisioner Provisioner) Service {
	return &service{
		store:       store,
		provisioner: provisioner,
	}
}

func (s *service) GetOrCreateWallet(ctx context.Context, userID, role string, chains []string) (*UserWallet, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if !ValidRole(role) {
		return nil, errors.Errorf("unknown role %q", role)
	}

	// Singleflight per key: concurrent creations for the same (userID,
	// role) collapse into one provisioning call.
	result, err, _ := s.creating.Do(walletKey(userID, role), func() (interface{}, error) {
		if existing := s.store.Get(userID, role); existing != nil {
			log.Debug().
				Str("user_id", userID).
				Str("role", role).
				Msg("RegistryService: wallet already exists")
			return existing, nil
		}

		provisioned, err := s.provisioner.ProvisionWallets(ctx, chains)
		if err != nil {
			return nil, errors.Wrap(err, "failed to provision wallets")
		}

		wallet := &UserWallet{
			UserID:       userID,
			Role:         role,
			ChainWallets: make(map[string]ChainWallet, len(provisioned)),
			State:        StateLive,
			CreatedAt:    time.Now().UTC(),
		}
		assignProvisioned(wallet, chains, provisioned)

		if err := s.store.Put(wallet); err != nil {
			return nil, errors.Wrap(err, "failed to persist wallet")
		}

		log.Info().
			Str("user_id", userID).
			Str("role", role).
			Int("chains", len(wallet.ChainWallets)).
			Msg("RegistryService: wallet created")

		return wallet, nil
	})
	if err != nil {
		return nil, err
	}

	wallet, ok := result.(*UserWallet)
	if !ok {
		return nil, errors.New("unexpected singleflight result type")
	}

	return wallet, nil
}

func (s *service) AddChains(ctx context.Context, userID, role string, chains []string) (*UserWallet, error) {
	wallet := s.store.Get(userID, role)
	if wallet == nil {
		return nil, errors.Errorf("no wallet registered for user %s role %s", userID, role)
	}

	missing := make([]string, 0, len(chains))
	for _, tag := range chains {
		if _, present := wallet.ChainWallets[tag]; !present {
			missing = append(missing, tag)
		}
	}

	if len(missing) == 0 {
		return wallet, nil
	}

	// EOA wallet ids are shared across chains: reuse the existing
	// identity when one exists rather than provisioning a new one.
	if shared, ok := sharedIdentity(wallet); ok {
		for _, tag := range missing {
			wallet.ChainWallets[tag] = shared
		}
	} else {
		provisioned, err := s.provisioner.ProvisionWallets(ctx, missing)
		if err != nil {
			return nil, errors.Wrap(err, "failed to provision additional wallets")
		}
		assignProvisioned(wallet, missing, provisioned)
	}

	if err := s.store.Put(wallet); err != nil {
		return nil, errors.Wrap(err, "failed to persist wallet")
	}

	log.Info().
		Str("user_id", userID).
		Str("role", role).
		Strs("chains", missing).
		Msg("RegistryService: chains added to wallet")

	return wallet, nil
}

func (s *service) LinkExternalAddress(ctx context.Context, userID, role, address string) (*UserWallet, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if normalized == "" {
		return nil, errors.New("address is required")
	}

	// Conflict check across every registered wallet, before any
	// mutation.
	owner, err := s.FindByAddress(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if owner != nil && (owner.UserID != userID || owner.Role != role) {
		return nil, &ConflictError{Address: normalized, OwnerID: owner.UserID, Role: owner.Role}
	}

	wallet := s.store.Get(userID, role)
	if wallet == nil {
		return nil, errors.Errorf("no wallet registered for user %s role %s", userID, role)
	}

	for _, existing := range wallet.ExternalWallets {
		if existing == normalized {
			return wallet, nil
		}
	}

	wallet.ExternalWallets = append(wallet.ExternalWallets, normalized)
	if err := s.store.Put(wallet); err != nil {
		return nil, errors.Wrap(err, "failed to persist wallet")
	}

	return wallet, nil
}

func (s *service) FindByAddress(_ context.Context, address string) (*UserWallet, error) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if normalized == "" {
		return nil, errors.New("address is required")
	}

	for _, wallet := range s.store.All() {
		for _, cw := range wallet.ChainWallets {
			if strings.ToLower(cw.Address) == normalized {
				return wallet, nil
			}
		}
		for _, external := range wallet.ExternalWallets {
			if strings.ToLower(external) == normalized {
				return wallet, nil
			}
		}
	}

	return nil, nil
}

func (s *service) Wallet(_ context.Context, userID, role string) (*UserWallet, error) {
	return s.store.Get(userID, role), nil
}

func (s *service) Freeze(_ context.Context, userID, role string) error {
	return s.setState(userID, role, StateFrozen)
}

func (s *service) Unfreeze(_ context.Context, userID, role string) error {
	return s.setState(userID, role, StateLive)
}

func (s *service) TouchLogin(_ context.Context, userID, role string) error {
	wallet := s.store.Get(userID, role)
	if wallet == nil {
		return errors.Errorf("no wallet registered for user %s role %s", userID, role)
	}

	now := time.Now().UTC()
	wallet.LastLogin = &now
	return s.store.Put(wallet)
}

func (s *service) setState(userID, role, state string) error {
	wallet := s.store.Get(userID, role)
	if wallet == nil {
		return errors.Errorf("no wallet registered for user %s role %s", userID, role)
	}

	wallet.State = state
	return s.store.Put(wallet)
}

// assignProvisioned maps provisioned wallets onto chain tags. The
// provisioner reports the chain per wallet where it can; a single
// EOA-style wallet without a chain tag serves every requested chain.
func assignProvisioned(wallet *UserWallet, chains []string, provisioned []*signer.Wallet) {
	byChain := make(map[string]*signer.Wallet, len(provisioned))
	var untagged *signer.Wallet
	for _, p := range provisioned {
		if p.Blockchain != "" {
			byChain[p.Blockchain] = p
			continue
		}
		untagged = p
	}

	for _, tag := range chains {
		p := byChain[tag]
		if p == nil {
			p = untagged
		}
		if p == nil {
			continue
		}
		wallet.ChainWallets[tag] = ChainWallet{
			WalletID: p.ID,
			Address:  strings.ToLower(p.Address),
		}
	}
}

// sharedIdentity returns the single wallet identity when every existing
// chain wallet shares one id, i.e. an EOA-style wallet.
func sharedIdentity(wallet *UserWallet) (ChainWallet, bool) {
	var shared ChainWallet
	first := true
	for _, cw := range wallet.ChainWallets {
		if first {
			shared = cw
			first = false
			continue
		}
		if cw.WalletID != shared.WalletID {
			return ChainWallet{}, false
		}
	}

	if first {
		return ChainWallet{}, false
	}
	return shared, true
}
