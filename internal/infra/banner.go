package infra

import (
	"fmt"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner with the account pairing.
// Copying always trades real accounts, so the warning is unconditional.
func PrintBanner(cfg *Config) {
	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", ColorCyan, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", ColorCyan, ColorReset)
	fmt.Printf("%s#              📋 cTrader Trade Copier                    #%s\n", ColorCyan, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", ColorCyan, ColorReset)
	fmt.Printf("%s#   MASTER:  %-36d #%s\n", ColorCyan, cfg.Accounts.MasterID, ColorReset)
	fmt.Printf("%s#   SLAVE:   %-36d #%s\n", ColorCyan, cfg.Accounts.SlaveID, ColorReset)
	fmt.Printf("%s#   VERSION: %-36s #%s\n", ColorCyan, cfg.App.Version, ColorReset)
	fmt.Printf("%s#                                                         #%s\n", ColorCyan, ColorReset)
	fmt.Printf("%s#   ⚠️  ORDERS WILL BE PLACED ON THE SLAVE ACCOUNT  ⚠️    #%s\n", ColorRed, ColorReset)
	fmt.Printf("%s###########################################################%s\n", ColorCyan, ColorReset)
	fmt.Println()
}
