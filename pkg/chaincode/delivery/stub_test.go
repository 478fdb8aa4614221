package delivery

import (
	"encoding/json"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// fakeStub is an in-memory world state. The embedded interface covers
// the methods the contract never touches; calling one of those panics,
// which is exactly what a test should do.
type fakeStub struct {
	shim.ChaincodeStubInterface

	state   map[string][]byte
	history map[string][]*queryresult.KeyModification
	events  []recordedEvent
	now     time.Time
	txSeq   int
	txID    string
}

type recordedEvent struct {
	name    string
	payload []byte
}

func newFakeStub() *fakeStub {
	return &fakeStub{
		state:   make(map[string][]byte),
		history: make(map[string][]*queryresult.KeyModification),
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		txID:    "tx-0",
	}
}

// nextTx simulates a new transaction: the clock advances and the tx id
// changes. Each contract invocation in a test is one transaction.
func (s *fakeStub) nextTx() {
	s.txSeq++
	s.now = s.now.Add(time.Minute)
	s.txID = "tx-" + strconv.Itoa(s.txSeq)
}

func (s *fakeStub) GetState(key string) ([]byte, error) {
	return s.state[key], nil
}

func (s *fakeStub) PutState(key string, value []byte) error {
	cp := append([]byte(nil), value...)
	s.state[key] = cp
	s.history[key] = append(s.history[key], &queryresult.KeyModification{
		TxId:      s.txID,
		Value:     cp,
		Timestamp: timestamppb.New(s.now),
	})
	return nil
}

func (s *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(s.now), nil
}

func (s *fakeStub) SetEvent(name string, payload []byte) error {
	s.events = append(s.events, recordedEvent{name: name, payload: payload})
	return nil
}

func (s *fakeStub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	keys := make([]string, 0, len(s.state))
	for k := range s.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*queryresult.KV, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &queryresult.KV{Key: k, Value: s.state[k]})
	}
	return &fakeStateIterator{kvs: kvs}, nil
}

func (s *fakeStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	return &fakeHistoryIterator{mods: s.history[key]}, nil
}

type fakeStateIterator struct {
	kvs []*queryresult.KV
	i   int
}

func (it *fakeStateIterator) HasNext() bool { return it.i < len(it.kvs) }
func (it *fakeStateIterator) Close() error  { return nil }
func (it *fakeStateIterator) Next() (*queryresult.KV, error) {
	kv := it.kvs[it.i]
	it.i++
	return kv, nil
}

type fakeHistoryIterator struct {
	mods []*queryresult.KeyModification
	i    int
}

func (it *fakeHistoryIterator) HasNext() bool { return it.i < len(it.mods) }
func (it *fakeHistoryIterator) Close() error  { return nil }
func (it *fakeHistoryIterator) Next() (*queryresult.KeyModification, error) {
	m := it.mods[it.i]
	it.i++
	return m, nil
}

// fakeIdentity scripts the certificate attributes of a caller.
type fakeIdentity struct {
	cid.ClientIdentity

	mspID string
	attrs map[string]string
}

func (f *fakeIdentity) GetMSPID() (string, error) { return f.mspID, nil }

func (f *fakeIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	v, ok := f.attrs[attrName]
	return v, ok, nil
}

type fakeContext struct {
	stub *fakeStub
	id   *fakeIdentity
}

func (c *fakeContext) GetStub() shim.ChaincodeStubInterface { return c.stub }
func (c *fakeContext) GetClientIdentity() cid.ClientIdentity { return c.id }

// asUser builds a transaction context for the given caller and advances
// the stub to a fresh transaction.
func asUser(stub *fakeStub, userID string, role UserRole, mspID string) *fakeContext {
	stub.nextTx()
	return &fakeContext{
		stub: stub,
		id: &fakeIdentity{
			mspID: mspID,
			attrs: map[string]string{"userId": userID, "role": string(role)},
		},
	}
}

// flatEvents unpacks recorded chaincode events, expanding batch
// envelopes, into an ordered (name, payload) list.
func flatEvents(t *testing.T, stub *fakeStub) []recordedEvent {
	t.Helper()
	var out []recordedEvent
	for _, ev := range stub.events {
		if ev.name != EventBatch {
			out = append(out, ev)
			continue
		}
		var entries []BatchedEvent
		require.NoError(t, json.Unmarshal(ev.payload, &entries))
		for _, e := range entries {
			out = append(out, recordedEvent{name: e.Name, payload: e.Payload})
		}
	}
	return out
}

// eventNames projects the flattened event sequence to names.
func eventNames(t *testing.T, stub *fakeStub) []string {
	t.Helper()
	evs := flatEvents(t, stub)
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.name
	}
	return names
}
