// Package directory serves the static payment-number listing. Payments are
// settled manually out-of-band; the directory is display-only and nothing
// verifies transfers programmatically.
package directory

import "strings"

// PaymentNumber is one provider/number pair shown to customers.
type PaymentNumber struct {
	Provider string `json:"provider"`
	Number   string `json:"number"`
}

// Directory is an immutable payment-number listing loaded from
// configuration at startup.
type Directory struct {
	numbers []PaymentNumber
}

// Parse builds a Directory from a "provider:number,provider:number" spec.
// Malformed segments are skipped rather than failing startup; the listing
// is informational.
func Parse(spec string) *Directory {
	var numbers []PaymentNumber
	for _, seg := range strings.Split(spec, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		provider, number, ok := strings.Cut(seg, ":")
		if !ok || provider == "" || number == "" {
			continue
		}
		numbers = append(numbers, PaymentNumber{
			Provider: strings.TrimSpace(provider),
			Number:   strings.TrimSpace(number),
		})
	}
	return &Directory{numbers: numbers}
}

// List returns the configured payment numbers.
func (d *Directory) List() []PaymentNumber {
	out := make([]PaymentNumber, len(d.numbers))
	copy(out, d.numbers)
	return out
}
