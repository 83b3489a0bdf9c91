package rfid

import (
	"fmt"

	"evcsms/internal"
)

type Decision string

const (
	DecisionAccepted Decision = "Accepted"
	DecisionRejected Decision = "Rejected"
)

// Validator is the pluggable secondary check applied once a record is found
// in the allowlist.
type Validator func(record Record) bool

// AuthorizeBalance is the default validator: the tag must be enabled and
// hold a balance of at least 1.
func AuthorizeBalance(record Record) bool {
	return record.Allowed() && record.Balance() >= 1
}

// AuthorizeAllowed ignores the balance, useful for flat-rate installations.
func AuthorizeAllowed(record Record) bool {
	return record.Allowed()
}

// AuthorizeAll accepts any known or unknown tag (demo mode).
func AuthorizeAll(Record) bool {
	return true
}

// Service resolves RFID tags to allow/deny decisions. The record store is
// reloaded on every call; balance or allowed changes need no restart.
type Service struct {
	allowlist *Store
	denylist  *Store
	validator Validator
	logger    internal.LogHandler
}

func NewService(allowlistPath, denylistPath string) *Service {
	service := &Service{
		validator: AuthorizeBalance,
	}
	if allowlistPath != "" {
		service.allowlist = NewStore(allowlistPath)
	}
	if denylistPath != "" {
		service.denylist = NewStore(denylistPath)
	}
	return service
}

func (s *Service) SetLogger(logger internal.LogHandler) {
	s.logger = logger
}

// SetValidator replaces the secondary check, e.g. with AuthorizeAllowed or
// an external balance lookup.
func (s *Service) SetValidator(validator Validator) {
	if validator != nil {
		s.validator = validator
	}
}

func (s *Service) Allowlist() *Store {
	return s.allowlist
}

// Authorize resolves an idTag. The denylist wins over everything; then the
// tag must exist in the allowlist and pass the validator.
func (s *Service) Authorize(idTag string) Decision {
	if idTag == "" {
		return DecisionRejected
	}
	if s.denylist != nil {
		if _, denied, err := s.denylist.Get(idTag); err == nil && denied {
			s.info(fmt.Sprintf("rfid %s is present in denylist, authorization denied", idTag))
			return DecisionRejected
		}
	}
	if s.allowlist == nil {
		s.warn("no rfid allowlist configured, rejecting all authorization requests")
		return DecisionRejected
	}
	record, ok, err := s.allowlist.Get(idTag)
	if err != nil {
		s.warn(fmt.Sprintf("rfid allowlist read failed: %s", err))
		return DecisionRejected
	}
	if !ok {
		return DecisionRejected
	}
	if s.validator(record) {
		return DecisionAccepted
	}
	return DecisionRejected
}

func (s *Service) info(text string) {
	if s.logger != nil {
		s.logger.Debug(text)
	}
}

func (s *Service) warn(text string) {
	if s.logger != nil {
		s.logger.Warn(text)
	}
}
