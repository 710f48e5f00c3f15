package domain

import (
	"testing"
	"time"
)

func TestOfferStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from OfferStatus
		to   OfferStatus
		want bool
	}{
		{name: "pending to accepted", from: OfferStatusPending, to: OfferStatusAccepted, want: true},
		{name: "pending to countered", from: OfferStatusPending, to: OfferStatusCounterOffered, want: true},
		{name: "pending to rejected", from: OfferStatusPending, to: OfferStatusRejected, want: true},
		{name: "pending to cancelled", from: OfferStatusPending, to: OfferStatusCancelled, want: true},
		{name: "pending to expired", from: OfferStatusPending, to: OfferStatusExpired, want: true},
		{name: "pending to pending", from: OfferStatusPending, to: OfferStatusPending, want: false},
		{name: "countered is final for instance", from: OfferStatusCounterOffered, to: OfferStatusAccepted, want: false},
		{name: "accepted to rejected", from: OfferStatusAccepted, to: OfferStatusRejected, want: false},
		{name: "expired to cancelled", from: OfferStatusExpired, to: OfferStatusCancelled, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestOfferStatusTerminal(t *testing.T) {
	if OfferStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []OfferStatus{OfferStatusCounterOffered, OfferStatusAccepted, OfferStatusRejected, OfferStatusCancelled, OfferStatusExpired} {
		if !s.IsTerminal() {
			t.Fatalf("status %s must be terminal", s)
		}
	}
	if OfferStatus("DRAFT").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestOfferDerivedFlags(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offer := Offer{Status: OfferStatusPending, CreatedAt: created, ExpiresAt: created.Add(48 * time.Hour)}

	if offer.IsExpired(created.Add(time.Hour)) {
		t.Fatal("fresh offer must not be expired")
	}
	if !offer.CanBeAccepted(created.Add(time.Hour)) || !offer.CanBeCountered(created.Add(time.Hour)) {
		t.Fatal("fresh pending offer must be actionable")
	}
	if offer.IsExpired(offer.ExpiresAt) {
		t.Fatal("offer is expired only strictly after expiresAt")
	}

	late := created.Add(49 * time.Hour)
	if !offer.IsExpired(late) {
		t.Fatal("offer must be expired after ttl")
	}
	if offer.CanBeAccepted(late) || offer.CanBeCountered(late) {
		t.Fatal("expired offer must not be actionable")
	}

	offer.Status = OfferStatusAccepted
	if offer.IsExpired(late) {
		t.Fatal("non-pending offer is never reported as expired")
	}
}

func TestOfferIsParticipant(t *testing.T) {
	offer := Offer{BuyerID: "buyer", SellerID: "seller"}
	if !offer.IsParticipant("buyer") || !offer.IsParticipant("seller") {
		t.Fatal("buyer and seller are participants")
	}
	if offer.IsParticipant("stranger") || offer.IsParticipant("") {
		t.Fatal("unexpected participant")
	}
}
