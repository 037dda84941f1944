package bursar

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xraph/bursar/fee"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// randomCode draws n characters from [A-Z0-9] without modulo bias.
func randomCode(r io.Reader, n int) (string, error) {
	const limit = 256 - 256%len(codeAlphabet)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("bursar: read entropy: %w", err)
		}
		for _, c := range buf {
			if int(c) >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(c)%len(codeAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// receiptNumber returns "<prefix><YYYYMMDD><6 x [A-Z0-9]>", e.g.
// RCP20260118K7Q2ZD, unless a ReceiptNumberer plugin is registered.
func (b *Bursar) receiptNumber(ctx context.Context, p *fee.Payment, at time.Time) (string, error) {
	if numberer := b.plugins.ReceiptNumberer(); numberer != nil {
		return numberer.ReceiptNumber(ctx, p, at)
	}
	suffix, err := randomCode(b.entropy, codeLength)
	if err != nil {
		return "", err
	}
	return b.receiptPrefix + at.UTC().Format("20060102") + suffix, nil
}

// enrollmentNumber returns "<prefix><YYYY><6 x [A-Z0-9]>", e.g. JN2026X4K9QA.
func (b *Bursar) enrollmentNumber(at time.Time) (string, error) {
	suffix, err := randomCode(b.entropy, codeLength)
	if err != nil {
		return "", err
	}
	return b.enrollmentPrefix + at.UTC().Format("2006") + suffix, nil
}
