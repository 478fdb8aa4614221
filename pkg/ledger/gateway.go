package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/parceltrace/parceltrace/pkg/config"
	"github.com/parceltrace/parceltrace/pkg/wallet"
)

// FabricConnector implements Connector and EventSource against the
// Fabric Gateway API. One gRPC client connection is shared per
// organization; per-user gateway handles sign with the user's own
// wallet key and live in a bounded LRU cache.
type FabricConnector struct {
	cfg           *config.Config
	wallet        *wallet.Wallet
	serviceUserID string

	connMu sync.Mutex
	conns  map[string]*grpc.ClientConn // org name → shared connection

	cache *handleCache

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewFabricConnector creates a connector. serviceUserID names the
// wallet identity used for the event subscription.
func NewFabricConnector(cfg *config.Config, w *wallet.Wallet, serviceUserID string) *FabricConnector {
	c := &FabricConnector{
		cfg:           cfg,
		wallet:        w,
		serviceUserID: serviceUserID,
		conns:         make(map[string]*grpc.ClientConn),
		janitorStop:   make(chan struct{}),
	}
	// Evicting a handle must drop the decrypted key from the wallet
	// cache as well.
	c.cache = newHandleCache(cfg.Ledger.MaxHandles, cfg.Ledger.HandleIdleTTL.Std(), w.Forget)

	go c.janitor()
	return c
}

// janitor periodically evicts idle handles.
func (c *FabricConnector) janitor() {
	interval := c.cfg.Ledger.HandleIdleTTL.Std() / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cache.sweep()
		case <-c.janitorStop:
			return
		}
	}
}

// Contract returns the user's chaincode handle, connecting on first use.
func (c *FabricConnector) Contract(ctx context.Context, userID string) (Contract, error) {
	if contract, ok := c.cache.get(userID); ok {
		return contract, nil
	}

	id, err := c.wallet.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	gw, err := c.connect(id)
	if err != nil {
		return nil, err
	}

	contract := &fabricContract{
		contract:  gw.GetNetwork(c.cfg.ChannelName).GetContract(c.cfg.ChaincodeName),
		deadlines: c.cfg.Deadlines,
	}
	c.cache.put(userID, contract, func() { _ = gw.Close() })
	return contract, nil
}

// Release drops a user's handle and cached key material.
func (c *FabricConnector) Release(userID string) {
	c.cache.release(userID)
}

// Close releases every handle and the shared gRPC connections.
func (c *FabricConnector) Close() {
	c.janitorOnce.Do(func() { close(c.janitorStop) })
	c.cache.closeAll()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	for org, conn := range c.conns {
		if err := conn.Close(); err != nil {
			slog.Warn("Failed to close peer connection", "org", org, "error", err)
		}
		delete(c.conns, org)
	}
}

// connect builds a gateway handle signing as the given identity.
func (c *FabricConnector) connect(id *wallet.Identity) (*client.Gateway, error) {
	org, err := c.cfg.Org(id.Organization)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: err.Error(), cause: err}
	}

	conn, err := c.grpcConn(id.Organization, org)
	if err != nil {
		return nil, err
	}

	cert, err := identity.CertificateFromPEM(id.Certificate)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("invalid wallet certificate for %s", id.UserID), cause: err}
	}
	x509ID, err := identity.NewX509Identity(id.MSPID, cert)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "failed to build X.509 identity", cause: err}
	}
	privateKey, err := identity.PrivateKeyFromPEM(id.PrivateKey)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("invalid wallet key for %s", id.UserID), cause: err}
	}
	sign, err := identity.NewPrivateKeySign(privateKey)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Message: "failed to build signer", cause: err}
	}

	gw, err := client.Connect(
		x509ID,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(c.cfg.Deadlines.Evaluate.Std()),
		client.WithEndorseTimeout(c.cfg.Deadlines.Endorse.Std()),
		client.WithSubmitTimeout(c.cfg.Deadlines.Submit.Std()),
		client.WithCommitStatusTimeout(c.cfg.Deadlines.CommitStatus.Std()),
	)
	if err != nil {
		return nil, &Error{Kind: KindDependencyFailure, Message: "failed to connect to gateway peer", cause: err}
	}
	return gw, nil
}

// grpcConn returns the organization's shared connection, dialing once.
func (c *FabricConnector) grpcConn(orgName string, org config.OrgConfig) (*grpc.ClientConn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if conn, ok := c.conns[orgName]; ok {
		return conn, nil
	}

	var creds credentials.TransportCredentials
	if org.PeerTLSCert != "" {
		tlsCreds, err := credentials.NewClientTLSFromFile(org.PeerTLSCert, org.GatewayPeer)
		if err != nil {
			return nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("failed to load peer TLS cert for %s", orgName), cause: err}
		}
		creds = tlsCreds
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(org.PeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, &Error{Kind: KindDependencyFailure, Message: fmt.Sprintf("failed to connect to peer for %s", orgName), cause: err}
	}
	c.conns[orgName] = conn
	slog.Info("Connected to peer", "org", orgName, "endpoint", org.PeerEndpoint)
	return conn, nil
}

// ChaincodeEvents opens the chaincode event stream under the service
// identity. The returned channel closes when ctx is cancelled or the
// transport drops.
func (c *FabricConnector) ChaincodeEvents(ctx context.Context) (<-chan *Event, error) {
	id, err := c.wallet.Get(ctx, c.serviceUserID)
	if err != nil {
		return nil, fmt.Errorf("service identity unavailable: %w", err)
	}

	gw, err := c.connect(id)
	if err != nil {
		return nil, err
	}

	events, err := gw.GetNetwork(c.cfg.ChannelName).ChaincodeEvents(ctx, c.cfg.ChaincodeName)
	if err != nil {
		_ = gw.Close()
		return nil, classify(err)
	}

	out := make(chan *Event, 64)
	go func() {
		defer close(out)
		defer gw.Close()
		for ev := range events {
			select {
			case out <- &Event{
				Name:        ev.EventName,
				Payload:     ev.Payload,
				TxID:        ev.TransactionID,
				BlockNumber: ev.BlockNumber,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// fabricContract adapts *client.Contract to the Contract interface,
// pinning the contractual deadlines and classifying failures.
type fabricContract struct {
	contract  *client.Contract
	deadlines config.DeadlineConfig
}

// Submit sends a transaction through ordering and waits for commit.
func (f *fabricContract) Submit(ctx context.Context, fn string, args ...string) ([]byte, error) {
	// Submit spans endorse + order + commit status.
	total := f.deadlines.Endorse.Std() + f.deadlines.Submit.Std() + f.deadlines.CommitStatus.Std()
	callCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	result, err := f.contract.SubmitWithContext(callCtx, fn, client.WithArguments(args...))
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// Evaluate runs a read-only query.
func (f *fabricContract) Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.deadlines.Evaluate.Std())
	defer cancel()

	result, err := f.contract.EvaluateWithContext(callCtx, fn, client.WithArguments(args...))
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}
