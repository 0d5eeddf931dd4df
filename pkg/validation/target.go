// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for scan targets.
//
// Target validation is the only rejection boundary of the scan core: a
// malformed URL or empty text payload is refused before any signal
// source runs. Everything past this boundary degrades instead of
// erroring.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// MaxContentLength is the largest accepted text payload in bytes.
const MaxContentLength = 5000

// ErrInvalidTarget is wrapped by every rejection from ValidateTarget.
// Callers should test with errors.Is.
var ErrInvalidTarget = errors.New("invalid target")

// TargetKind distinguishes URL targets from raw text payloads.
type TargetKind string

const (
	KindURL  TargetKind = "url"
	KindText TargetKind = "text"
)

// Target is a validated, normalized scan subject.
//
// Normalized is the canonical form used for cache keying: for URLs the
// lowercased scheme and host with the raw path/query preserved, for text
// the trimmed payload.
type Target struct {
	Raw        string
	Normalized string
	Kind       TargetKind

	// Host and RegistrableDomain are set for URL targets only.
	// RegistrableDomain is the eTLD+1 (publicsuffix), falling back to
	// the full host when the suffix list has no answer.
	Host              string
	RegistrableDomain string
}

// IsURL reports whether the target is a URL rather than a text payload.
func (t Target) IsURL() bool { return t.Kind == KindURL }

// ValidateTarget validates and normalizes a raw scan target.
//
// Inputs that start with http:// or https:// must parse as absolute
// URLs with a hostname. Anything else is treated as a text payload and
// only bounded by MaxContentLength. Empty input is rejected.
//
// Example:
//
//	target, err := validation.ValidateTarget(userInput)
//	if errors.Is(err, validation.ErrInvalidTarget) {
//	    // reject the request, nothing was scanned
//	}
func ValidateTarget(raw string) (Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Target{}, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if len(trimmed) > MaxContentLength {
		return Target{}, fmt.Errorf("%w: target exceeds %d bytes", ErrInvalidTarget, MaxContentLength)
	}

	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return validateURL(trimmed)
	}

	return Target{
		Raw:        raw,
		Normalized: trimmed,
		Kind:       KindText,
	}, nil
}

func validateURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("%w: URL has no host", ErrInvalidTarget)
	}
	if strings.ContainsAny(host, " \t") {
		return Target{}, fmt.Errorf("%w: URL host contains whitespace", ErrInvalidTarget)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// IPs and bare hosts have no registrable domain; use the host.
		registrable = strings.ToLower(host)
	}

	return Target{
		Raw:               raw,
		Normalized:        u.String(),
		Kind:              KindURL,
		Host:              strings.ToLower(host),
		RegistrableDomain: registrable,
	}, nil
}
