package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by Service.Authenticate. The connection state
// machine maps each to the localisation keys in the error-handling table.
var (
	ErrInvalidName       = errors.New("auth: invalid user name")
	ErrNotWhitelisted    = errors.New("auth: user name not in whitelist")
	ErrDeviceCapReached  = errors.New("auth: cannot register more new users on this device")
	ErrCredentialFail    = errors.New("auth: username or password error")
)

// BannedError is returned when the account is currently banned.
type BannedError struct {
	ExpireEpoch int64
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("auth: account banned until %d", e.ExpireEpoch)
}

// Service wraps a Store with the policy lists and tunables needed to
// fully resolve a Setup attempt.
type Service struct {
	Store *Store

	Whitelist []string
	BanWords  []string

	MaxPlayersPerDevice int
	AutoRegister        bool
	UserDBEnable        bool

	VerifyOpts VerifyOptions
}

// NewService loads the whitelist and ban-word files and returns a ready
// Service. Both lists may be empty (policy disabled) if their paths are
// unset.
func NewService(store *Store, whitelistPath, banWordsPath string, maxPerDevice int, autoRegister, userDBEnable bool, verifyOpts VerifyOptions) (*Service, error) {
	whitelist, err := LoadTokens(whitelistPath)
	if err != nil {
		return nil, err
	}
	banWords, err := LoadTokens(banWordsPath)
	if err != nil {
		return nil, err
	}
	return &Service{
		Store:               store,
		Whitelist:           whitelist,
		BanWords:            banWords,
		MaxPlayersPerDevice: maxPerDevice,
		AutoRegister:        autoRegister,
		UserDBEnable:        userDBEnable,
		VerifyOpts:          verifyOpts,
	}, nil
}

// Authenticate resolves one Setup attempt. rawPassword is the raw bytes
// from the Setup payload (before any candidate-form derivation). nowUnix
// is the current epoch seconds, used for ban-expiry comparison.
//
// On success it returns the resolved User (existing or newly
// registered). On failure it returns one of ErrInvalidName,
// ErrNotWhitelisted, ErrDeviceCapReached, ErrCredentialFail,
// *BannedError, or a wrapped ErrStorage.
//
// registered reports whether this call created a new user row, for
// callers that want to distinguish registration from plain re-login
// (e.g. for metrics) without re-deriving it from the User itself.
func (s *Service) Authenticate(name string, rawPassword []byte, uuid string, nowUnix int64) (user User, registered bool, err error) {
	if !s.UserDBEnable {
		return User{}, false, ErrCredentialFail
	}

	existing, found, maxID, err := s.Store.Lookup(name)
	if err != nil {
		return User{}, false, err
	}

	if found {
		if existing.Banned && existing.BanExpireEpoch > nowUnix {
			return User{}, false, &BannedError{ExpireEpoch: existing.BanExpireEpoch}
		}
		if existing.Banned && existing.BanExpireEpoch <= nowUnix {
			if err := s.Store.RewriteBan(existing.ID, false, 0); err != nil {
				return User{}, false, err
			}
			existing.Banned = false
			existing.BanExpireEpoch = 0
		}
		if !VerifyPassword(existing, rawPassword, s.VerifyOpts) {
			return User{}, false, ErrCredentialFail
		}
		return existing, false, nil
	}

	if !s.AutoRegister {
		return User{}, false, ErrCredentialFail
	}
	u, err := s.register(name, rawPassword, uuid, maxID)
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *Service) register(name string, rawPassword []byte, uuid string, maxID int64) (User, error) {
	if !ValidName(name) {
		return User{}, ErrInvalidName
	}
	if len(s.Whitelist) > 0 && !InList(s.Whitelist, name) {
		return User{}, ErrNotWhitelisted
	}
	if ContainsBanWord(s.BanWords, name) {
		return User{}, ErrInvalidName
	}

	count, err := s.Store.CountUUIDBindings(uuid)
	if err != nil {
		return User{}, err
	}
	if count >= s.MaxPlayersPerDevice {
		return User{}, ErrDeviceCapReached
	}

	salt, err := GenerateSaltHex8()
	if err != nil {
		return User{}, err
	}
	candidate := passwordCandidateForRegistration(rawPassword, s.VerifyOpts)
	digest := SaltedSHA256Hex(candidate, salt)

	u := User{
		ID:             maxID + 1,
		Name:           name,
		StoredPassword: fmt.Sprintf("sha256:%s:%s", salt, digest),
		Avatar:         "liubei",
		Banned:         false,
		BanExpireEpoch: 0,
	}
	if err := s.Store.Append(u); err != nil {
		return User{}, err
	}
	if err := s.Store.AppendBinding(uuid, name); err != nil {
		return User{}, err
	}
	return u, nil
}

// passwordCandidateForRegistration picks the text form stored at
// registration time. It must match whichever form VerifyPassword will
// recompute later: when stripping is enabled and the raw password is
// long enough to be stripped, that's the stripped form — storing the
// full text here would mean a later Setup with the same password never
// matches the hash computed over the stripped candidate. Falls back to
// the full text, then the hex form for non-printable passwords.
func passwordCandidateForRegistration(raw []byte, opts VerifyOptions) string {
	c := buildCandidates(raw, opts)
	if c.hasStripped {
		return c.stripped
	}
	if c.hasText {
		return c.text
	}
	return c.hexForm
}
