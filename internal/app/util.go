package app

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const polymarketWebBase = "https://polymarket.com"

// shortID truncates long IDs for readable logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// nz returns fallback if s is empty or whitespace-only.
func nz(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// isWallet reports whether s is a 0x-prefixed 20 byte address.
func isWallet(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func profileURL(wallet string) string {
	if wallet == "" {
		return ""
	}
	return polymarketWebBase + "/profile/" + wallet
}

func marketURL(slug string) string {
	if slug == "" {
		return ""
	}
	return polymarketWebBase + "/event/" + slug
}
