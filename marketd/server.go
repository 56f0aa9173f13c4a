// marketd is the auction marketplace server. It owns the market proxy and
// its persistent state, exposes every public operation over vsock, and
// signs settlement receipts that the validation package can verify
// out of process.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/nftmarket/core"
)

// marketSelf is the marketplace's own address: the custodian of every asset
// under active auction.
var marketSelf = common.HexToAddress("0x000000000000000000000000000000004d6b7431")

type MarketServer struct {
	port       uint32
	maxWorkers int
	stateFile  string

	proxy  *core.Proxy
	signer *ReceiptSigner

	persistMu sync.Mutex
}

func (s *MarketServer) Start() error {
	listener, err := vsock.Listen(s.port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	log.Printf("INFO: Market server listening on vsock port %d", s.port)

	semaphore := make(chan struct{}, s.maxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", s.maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("ERROR: Failed to accept vsock connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

// persist writes the state snapshot to the state file (atomic rename).
// Called after every committed mutation so a restart resumes exactly where
// the last operation left off.
func (s *MarketServer) persist() {
	if s.stateFile == "" {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := s.proxy.Snapshot()
	if err != nil {
		log.Printf("ERROR: Failed to snapshot state: %v", err)
		return
	}
	tmp := s.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Printf("ERROR: Failed to write state file: %v", err)
		return
	}
	if err := os.Rename(tmp, s.stateFile); err != nil {
		log.Printf("ERROR: Failed to replace state file: %v", err)
	}
}

// Helper functions for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getRequiredEnvAddress(key string) (common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		return common.Address{}, fmt.Errorf("required environment variable %s is not set", key)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid value for %s: %s (must be a hex address)", key, value)
	}
	log.Printf("INFO: Using %s=%s from environment", key, value)
	return common.HexToAddress(value), nil
}

func newServer() (*MarketServer, error) {
	port, err := getRequiredEnvInt("MARKETD_VSOCK_PORT")
	if err != nil {
		return nil, err
	}
	maxWorkers, err := getRequiredEnvInt("MARKETD_MAX_WORKERS")
	if err != nil {
		return nil, err
	}
	admin, err := getRequiredEnvAddress("MARKETD_ADMIN")
	if err != nil {
		return nil, err
	}
	feeRecipient, err := getRequiredEnvAddress("MARKETD_FEE_RECIPIENT")
	if err != nil {
		return nil, err
	}
	stateFile := os.Getenv("MARKETD_STATE_FILE")

	signer, err := NewReceiptSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize receipt signer: %w", err)
	}
	log.Printf("INFO: ReceiptSigner initialized")

	env := &core.Env{
		Self:     marketSelf,
		Resolver: newLocalResolver(),
		Bank:     newCreditBank(),
		Sink: core.EventSinkFunc(func(ev core.Event) {
			log.Printf("INFO: Event %s auction=%d id=%s", ev.Type, ev.AuctionID, ev.ID)
		}),
	}

	proxy, err := bootProxy(env, stateFile, admin, feeRecipient)
	if err != nil {
		return nil, err
	}

	return &MarketServer{
		port:       uint32(port),
		maxWorkers: maxWorkers,
		stateFile:  stateFile,
		proxy:      proxy,
		signer:     signer,
	}, nil
}

// bootProxy restores the persisted state image if one exists, installing
// the logic generation the stored initializer marker calls for; otherwise
// it starts fresh and runs the generation-one initializer.
func bootProxy(env *core.Env, stateFile string, admin, feeRecipient common.Address) (*core.Proxy, error) {
	if stateFile != "" {
		if data, err := os.ReadFile(stateFile); err == nil {
			restored := core.NewState()
			if err := restored.Restore(data); err != nil {
				return nil, fmt.Errorf("failed to read state file %s: %w", stateFile, err)
			}
			var logic core.Logic = core.MarketV1{}
			if restored.InitializedVersion >= core.Version2 {
				logic = core.MarketV2{}
			}
			proxy := core.NewProxy(logic, env)
			if err := proxy.Restore(data); err != nil {
				return nil, err
			}
			log.Printf("INFO: State restored from %s (generation %d)", stateFile, restored.InitializedVersion)
			return proxy, nil
		}
		log.Printf("INFO: No state file at %s, starting fresh", stateFile)
	}

	proxy := core.NewProxy(core.MarketV1{}, env)
	if err := proxy.Initialize(admin, feeRecipient); err != nil {
		return nil, fmt.Errorf("failed to initialize marketplace: %w", err)
	}
	log.Printf("INFO: Marketplace initialized, admin=%s feeRecipient=%s", admin.Hex(), feeRecipient.Hex())
	return proxy, nil
}

func main() {
	server, err := newServer()
	if err != nil {
		log.Fatal(err)
	}
	server.persist()
	log.Fatal(server.Start())
}
