// Smart Account - an EIP-4337 style smart-contract account engine with
// signature/nonce replay protection, session keys, gas policies, app
// permissions and guardian recovery.
//
// Usage:
//
//	smart-account [options]
//
// Options:
//
//	-chain-id      Chain ID binding operation signatures (default: 1, or from env/preset)
//	-key           Owner private key hex (uses a test key if not provided)
//	-mnemonic      BIP39 mnemonic for deriving the owner key
//	-demo          Run a scripted account scenario and print receipts
//	-selftest      Run validation pipeline self-checks
//	-serve         Start the guardian/inspection HTTP service
//	-listen        HTTP listen address (default: 127.0.0.1:8437)
//	-guardian      Recovery guardian address
//	-verbose       Show detailed output
//	-preset        Chain preset (local, mainnet, sepolia, holesky)
//	-env           Path to .env file (default: .env in current directory)
//	-list-presets  List available chain presets
//
// Environment Variables:
//
//	CHAIN_ID         Chain ID (overrides default, overridden by -chain-id flag)
//	OWNER_KEY        Owner private key (no 0x prefix)
//	ACCOUNT_ADDRESS  Account address
//	GUARDIAN_ADDRESS Recovery guardian address
//	RECOVERY_DELAY   Recovery delay in seconds
//	LISTEN_ADDR      HTTP listen address
//	CHAIN_PRESET     Chain preset name (e.g. sepolia)
package main

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/pbkdf2"

	"github.com/stable-net/smart-account/account"
	"github.com/stable-net/smart-account/api"
	"github.com/stable-net/smart-account/config"
)

func main() {
	// Pre-parse to get env path for early loading so flag defaults pick up
	// the environment
	envLoaded := false
	for i, arg := range os.Args[1:] {
		if arg == "-env" && i+1 < len(os.Args)-1 {
			_ = config.LoadConfig(os.Args[i+2])
			envLoaded = true
			break
		} else if strings.HasPrefix(arg, "-env=") {
			_ = config.LoadConfig(strings.TrimPrefix(arg, "-env="))
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		_ = config.LoadConfig("")
	}

	_ = flag.String("env", "", "Path to .env file (default: .env in current directory)")
	preset := flag.String("preset", "", "Chain preset (local, mainnet, sepolia, holesky)")
	listPresets := flag.Bool("list-presets", false, "List available chain presets")

	chainID := flag.Int64("chain-id", config.GetChainID().Int64(), "Chain ID binding operation signatures")
	keyHex := flag.String("key", config.GetOwnerKey(), "Owner private key hex")
	mnemonic := flag.String("mnemonic", "", "BIP39 mnemonic for deriving the owner key")
	guardian := flag.String("guardian", config.GetGuardian(), "Recovery guardian address")
	verbose := flag.Bool("verbose", false, "Show detailed output")

	demo := flag.Bool("demo", false, "Run a scripted account scenario")
	selftest := flag.Bool("selftest", false, "Run validation pipeline self-checks")
	serve := flag.Bool("serve", false, "Start the guardian/inspection HTTP service")
	listen := flag.String("listen", config.GetListenAddr(), "HTTP listen address")

	flag.Parse()

	if *listPresets {
		config.PrintPresets()
		return
	}

	if *preset != "" {
		presetConfig, err := config.ApplyPreset(*preset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !isFlagSet("chain-id") {
			*chainID = presetConfig.ChainID.Int64()
		}
	}

	fmt.Println("Smart Account")
	fmt.Println("=============")

	if *mnemonic != "" {
		derivedKey, err := deriveKeyFromMnemonic(*mnemonic)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deriving key from mnemonic: %v\n", err)
			os.Exit(1)
		}
		*keyHex = derivedKey
		fmt.Println("Derived owner key from mnemonic")
	} else if *keyHex == "" {
		*keyHex = account.TestPrivateKeys[0]
	}

	if *selftest {
		runSelfTest(big.NewInt(*chainID), *keyHex, *verbose)
		return
	}

	if *serve {
		runServer(big.NewInt(*chainID), *keyHex, *guardian, *listen)
		return
	}

	if *demo {
		runDemo(big.NewInt(*chainID), *keyHex, *guardian, *verbose)
		return
	}

	// Default: self-checks followed by the demo scenario
	runSelfTest(big.NewInt(*chainID), *keyHex, *verbose)
	runDemo(big.NewInt(*chainID), *keyHex, *guardian, *verbose)
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// newAccount builds a SmartAccount owned by the key, with an optional
// guardian from configuration.
func newAccount(chainID *big.Int, keyHex, guardianHex string) (*account.SmartAccount, common.Address, error) {
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to parse owner key: %w", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	acctAddr := common.HexToAddress(config.GetAccountAddress())
	if acctAddr == (common.Address{}) {
		// Derive a stable demo account address from the owner
		acctAddr = common.BytesToAddress(crypto.Keccak256(owner.Bytes())[12:])
	}

	acct, err := account.NewSmartAccount(acctAddr, owner, chainID)
	if err != nil {
		return nil, common.Address{}, err
	}

	if guardianHex != "" && common.IsHexAddress(guardianHex) {
		g := common.HexToAddress(guardianHex)
		if err := acct.SetRecovery(owner, g, config.GetRecoveryDelay()); err != nil {
			return nil, common.Address{}, fmt.Errorf("failed to set recovery: %w", err)
		}
	}
	return acct, owner, nil
}

// runDemo runs a scripted scenario: policy setup, a signed operation, a
// replay attempt and a batch call, printing receipts along the way.
func runDemo(chainID *big.Int, keyHex, guardianHex string, verbose bool) {
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	acct, owner, err := newAccount(chainID, keyHex, guardianHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(account.FormatAccountStatus(acct))

	// Account-wide gas policy: 0.1 ETH per tx, 1 ETH per day
	_ = acct.SetGasPolicy(owner, account.NewGasPolicy(
		uint256.NewInt(500_000_000_000), // 500 gwei
		uint256.MustFromDecimal("1000000000000000000"),
		uint256.MustFromDecimal("100000000000000000"),
		0,
	))

	exec := account.NewSimExecutor()
	target := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	op := &account.UserOperation{
		Sender:       acct.Address(),
		Nonce:        new(big.Int).SetUint64(acct.Nonce()),
		CallData:     account.EncodeCallData(target, big.NewInt(0), []byte{0x01, 0x02, 0x03, 0x04}),
		CallGasLimit: 100000,
		MaxFeePerGas: big.NewInt(2_000_000_000),
	}
	op.Signature, err = account.SignUserOp(key, op, acct.Domain())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing operation: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Submitting signed operation...")
	receipt := acct.HandleOperation(owner, op, exec)
	fmt.Println(account.FormatReceipt(receipt))

	fmt.Println("Replaying the identical operation...")
	replay := acct.HandleOperation(owner, op, exec)
	fmt.Println(account.FormatReceipt(replay))

	fmt.Println("Running a batch (one failing target)...")
	badTarget := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	exec.FailTarget(badTarget)
	results, err := acct.ExecuteBatch(owner,
		[]common.Address{target, badTarget, target},
		[]*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
		[][]byte{{0x01}, {0x02}, {0x03}},
		[]uint64{50000, 50000, 50000},
		uint256.NewInt(1_000_000_000),
		exec,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Batch error: %v\n", err)
	} else {
		for i, r := range results {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Printf("  [%d] %s gas=%d\n", i, status, r.GasUsed)
		}
	}

	if verbose {
		fmt.Println(account.FormatEvents(acct.Events().Events()))
	}
}

// runSelfTest exercises the validation pipeline properties and prints a
// pass/fail summary.
func runSelfTest(chainID *big.Int, keyHex string, verbose bool) {
	fmt.Println("\nRunning validation pipeline self-checks...")

	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	acct, _ := account.NewSmartAccount(common.HexToAddress("0x4242"), owner, chainID)
	exec := account.NewSimExecutor()
	target := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	passed, failed := 0, 0
	check := func(name string, ok bool) {
		if ok {
			passed++
			if verbose {
				fmt.Printf("  PASS %s\n", name)
			}
		} else {
			failed++
			fmt.Printf("  FAIL %s\n", name)
		}
	}

	op := &account.UserOperation{
		Sender:       acct.Address(),
		Nonce:        new(big.Int).SetUint64(acct.Nonce()),
		CallData:     account.EncodeCallData(target, big.NewInt(0), nil),
		CallGasLimit: 50000,
		MaxFeePerGas: big.NewInt(1_000_000_000),
	}
	op.Signature, _ = account.SignUserOp(key, op, acct.Domain())

	r1 := acct.HandleOperation(owner, op, exec)
	check("valid operation accepted", r1.State == account.StateExecuted && r1.Success)
	check("nonce advanced by one", acct.Nonce() == 1)

	r2 := acct.HandleOperation(owner, op, exec)
	check("replay rejected", r2.State == account.StateRejected && r2.Reason == account.ReasonReplay)

	short := &account.UserOperation{
		Sender:       acct.Address(),
		Nonce:        new(big.Int).SetUint64(acct.Nonce()),
		CallData:     op.CallData,
		CallGasLimit: 50000,
		MaxFeePerGas: big.NewInt(1_000_000_000),
		Signature:    []byte{0x01, 0x02},
	}
	r3 := acct.HandleOperation(owner, short, exec)
	check("short signature rejected", r3.Reason == account.ReasonBadLength)

	fmt.Printf("\nSelf-checks: %d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// runServer starts the guardian/inspection HTTP service.
func runServer(chainID *big.Int, keyHex, guardianHex, listen string) {
	acct, _, err := newAccount(chainID, keyHex, guardianHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	srv := api.NewServer(acct, account.NewSimExecutor())
	fmt.Printf("Listening on http://%s\n", listen)
	if err := http.ListenAndServe(listen, srv.Router()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// deriveKeyFromMnemonic derives an owner private key from a BIP39 mnemonic.
// Seed per BIP39 (PBKDF2-HMAC-SHA512, salt "mnemonic", 2048 rounds), then
// the master key per BIP32 reduced modulo the secp256k1 order.
func deriveKeyFromMnemonic(mnemonic string) (string, error) {
	words := strings.Fields(strings.ToLower(mnemonic))
	if len(words) == 0 {
		return "", fmt.Errorf("empty mnemonic")
	}
	normalized := strings.Join(words, " ")

	seed := pbkdf2.Key([]byte(normalized), []byte("mnemonic"), 2048, 64, sha512.New)

	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	n, _ := new(big.Int).SetString("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)
	k := new(big.Int).SetBytes(sum[:32])
	k.Mod(k, n)
	if k.Sign() == 0 {
		return "", fmt.Errorf("degenerate key derived from mnemonic")
	}

	keyBytes := k.Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(keyBytes):], keyBytes)
	return hex.EncodeToString(padded), nil
}
