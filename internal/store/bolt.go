// Package store implements the services/devices repository and
// unit-of-work ports (internal/repository) on top of BoltDB, the same
// embedded store the teacher uses for all of its persistence
// (internal/store/bolt.go), generalized from implicit db.Update/db.View
// closures to an explicit Tx object a use case can hold across multiple
// repository calls — CreateService's find_one-then-create must observe
// the same in-flight write (spec.md §4.6, §9).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/helios-home/control-plane/internal/domain"
	"github.com/helios-home/control-plane/internal/repository"
)

var (
	bucketServices     = []byte("services")
	bucketDevices      = []byte("devices")
	bucketServiceIndex = []byte("service_index")
)

// Store opens and owns the BoltDB file backing the control plane's
// persistence. It implements repository.UnitOfWorkProvider directly.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a BoltDB database at path and ensures all required
// buckets exist, mirroring the teacher's Open (internal/store/bolt.go).
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketServices, bucketDevices, bucketServiceIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// boltTx wraps one bbolt write transaction. bbolt allows exactly one
// writable transaction at a time, so holding one for a use case's full
// lifetime serializes all writers against each other for free — this is
// what makes CreateService's find_one-then-create race-free without a
// separate storage-level uniqueness constraint (spec.md §9 Open Question 3).
type boltTx struct {
	tx   *bolt.Tx
	done bool
}

func (t *boltTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *boltTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// Begin opens a new writable transaction. ctx is accepted to satisfy
// repository.UnitOfWorkProvider; bbolt's Begin has no cancellation point of
// its own, so ctx is unused beyond matching the signature the rest of the
// control plane depends on.
func (s *Store) Begin(_ context.Context) (repository.Tx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrConnectionFailed, err)
	}
	return &boltTx{tx: tx}, nil
}

func unwrap(tx repository.Tx) (*bolt.Tx, error) {
	bt, ok := tx.(*boltTx)
	if !ok {
		return nil, fmt.Errorf("%w: tx is not a bolt transaction", repository.ErrUnknown)
	}
	return bt.tx, nil
}

// serviceRecord is the on-disk shape of a Service. domain.Service excludes
// Token from its JSON tags (it must never leave the server except through
// GenerateInstallScript's rendering), so the store needs its own wrapper
// that does persist it.
type serviceRecord struct {
	domain.Service
	Token string `json:"token"`
}

func encodeService(svc domain.Service) ([]byte, error) {
	return json.Marshal(serviceRecord{Service: svc, Token: svc.Token})
}

func decodeService(data []byte) (domain.Service, error) {
	var rec serviceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Service{}, fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	rec.Service.Token = rec.Token
	return rec.Service, nil
}

// ServicesRepo implements repository.ServicesRepository over the services
// and service_index buckets.
type ServicesRepo struct{}

// NewServicesRepo constructs a ServicesRepo. It holds no state of its own —
// every method receives the Tx to operate through, matching the bundle
// pattern spec.md §9 calls for in place of the original's generic
// ServicesRepository<UWP> trait bound.
func NewServicesRepo() *ServicesRepo { return &ServicesRepo{} }

func indexKey(mac domain.MAC, kind domain.ServiceKind) []byte {
	return []byte(mac.String() + "|" + string(kind))
}

func (r *ServicesRepo) FetchAllOfDevice(tx repository.Tx, mac domain.MAC) ([]domain.Service, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	b := btx.Bucket(bucketServices)
	var out []domain.Service
	err = b.ForEach(func(_, v []byte) error {
		svc, err := decodeService(v)
		if err != nil {
			return err
		}
		if svc.DeviceMAC == mac {
			out = append(out, svc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ServicesRepo) FetchOne(tx repository.Tx, serviceID uuid.UUID) (domain.Service, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return domain.Service{}, err
	}
	b := btx.Bucket(bucketServices)
	v := b.Get([]byte(serviceID.String()))
	if v == nil {
		return domain.Service{}, repository.ErrNotFound
	}
	return decodeService(v)
}

// FindOne returns the service whose stored port-type-and-number set exactly
// equals ports, for the given mac/kind, or repository.ErrNotFound. The
// service_index bucket narrows the candidate list to services sharing
// (mac, kind) before the in-memory set comparison (spec.md §3 invariant 3,
// §4.5).
func (r *ServicesRepo) FindOne(tx repository.Tx, mac domain.MAC, kind domain.ServiceKind, ports []domain.ServicePort) (domain.Service, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return domain.Service{}, err
	}

	idxBucket := btx.Bucket(bucketServiceIndex)
	raw := idxBucket.Get(indexKey(mac, kind))
	if raw == nil {
		return domain.Service{}, repository.ErrNotFound
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return domain.Service{}, fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}

	want := portSet(ports)
	svcBucket := btx.Bucket(bucketServices)
	for _, id := range ids {
		v := svcBucket.Get([]byte(id))
		if v == nil {
			continue
		}
		svc, err := decodeService(v)
		if err != nil {
			return domain.Service{}, err
		}
		if portSetsEqual(want, portSet(svc.Ports)) {
			return svc, nil
		}
	}
	return domain.Service{}, repository.ErrNotFound
}

// portSet maps each port's (name, transport, application, port-number)
// quadruple to a struct key for equality comparison. Port-type identity is
// name/transport/application; the number must match byte-for-byte too
// because find_one compares on "port-type-and-number set" (spec.md §3).
type portKey struct {
	domain.ServicePortTemplate
	Port uint16
}

func portSet(ports []domain.ServicePort) map[portKey]struct{} {
	set := make(map[portKey]struct{}, len(ports))
	for _, p := range ports {
		set[portKey{
			ServicePortTemplate: domain.ServicePortTemplate{
				Name:                p.Name,
				TransportProtocol:   p.TransportProtocol,
				ApplicationProtocol: p.ApplicationProtocol,
			},
			Port: p.Port,
		}] = struct{}{}
	}
	return set
}

func portSetsEqual(a, b map[portKey]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (r *ServicesRepo) Create(tx repository.Tx, svc domain.Service) error {
	btx, err := unwrap(tx)
	if err != nil {
		return err
	}
	b := btx.Bucket(bucketServices)
	key := []byte(svc.ID.String())
	if b.Get(key) != nil {
		return repository.ErrUniqueViolation
	}
	data, err := encodeService(svc)
	if err != nil {
		return err
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	return r.addToIndex(btx, svc)
}

func (r *ServicesRepo) Update(tx repository.Tx, svc domain.Service) error {
	btx, err := unwrap(tx)
	if err != nil {
		return err
	}
	b := btx.Bucket(bucketServices)
	key := []byte(svc.ID.String())
	existing := b.Get(key)
	if existing == nil {
		return repository.ErrNotFound
	}
	old, err := decodeService(existing)
	if err != nil {
		return err
	}

	data, err := encodeService(svc)
	if err != nil {
		return err
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}

	// Ports are replaced atomically (spec.md §4.5 "update replaces the
	// ports set atomically"), but the index key is keyed on (mac, kind),
	// not ports, so it only needs refreshing if mac/kind themselves changed.
	if old.DeviceMAC != svc.DeviceMAC || old.Kind != svc.Kind {
		if err := r.removeFromIndex(btx, old); err != nil {
			return err
		}
		return r.addToIndex(btx, svc)
	}
	return nil
}

func (r *ServicesRepo) addToIndex(tx *bolt.Tx, svc domain.Service) error {
	b := tx.Bucket(bucketServiceIndex)
	key := indexKey(svc.DeviceMAC, svc.Kind)
	ids := r.readIndex(b, key)
	for _, id := range ids {
		if id == svc.ID.String() {
			return nil
		}
	}
	ids = append(ids, svc.ID.String())
	return r.writeIndex(b, key, ids)
}

func (r *ServicesRepo) removeFromIndex(tx *bolt.Tx, svc domain.Service) error {
	b := tx.Bucket(bucketServiceIndex)
	key := indexKey(svc.DeviceMAC, svc.Kind)
	ids := r.readIndex(b, key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != svc.ID.String() {
			filtered = append(filtered, id)
		}
	}
	return r.writeIndex(b, key, filtered)
}

func (r *ServicesRepo) readIndex(b *bolt.Bucket, key []byte) []string {
	raw := b.Get(key)
	if raw == nil {
		return nil
	}
	var ids []string
	_ = json.Unmarshal(raw, &ids)
	return ids
}

func (r *ServicesRepo) writeIndex(b *bolt.Bucket, key []byte, ids []string) error {
	if len(ids) == 0 {
		return b.Delete(key)
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	return b.Put(key, data)
}

// DevicesRepo implements repository.DevicesRepository over the devices
// bucket.
type DevicesRepo struct{}

func NewDevicesRepo() *DevicesRepo { return &DevicesRepo{} }

func (r *DevicesRepo) FetchAll(tx repository.Tx, pagination *repository.Pagination) ([]domain.Device, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return nil, err
	}
	b := btx.Bucket(bucketDevices)
	var all []domain.Device
	err = b.ForEach(func(_, v []byte) error {
		var d domain.Device
		if err := json.Unmarshal(v, &d); err != nil {
			return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
		}
		all = append(all, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if pagination == nil {
		return all, nil
	}
	start := int(pagination.Page-1) * int(pagination.Limit)
	if start < 0 || start >= len(all) {
		return nil, nil
	}
	end := start + int(pagination.Limit)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (r *DevicesRepo) FetchOne(tx repository.Tx, mac domain.MAC) (domain.Device, error) {
	btx, err := unwrap(tx)
	if err != nil {
		return domain.Device{}, err
	}
	b := btx.Bucket(bucketDevices)
	v := b.Get([]byte(mac.String()))
	if v == nil {
		return domain.Device{}, repository.ErrNotFound
	}
	var d domain.Device
	if err := json.Unmarshal(v, &d); err != nil {
		return domain.Device{}, fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	return d, nil
}

func (r *DevicesRepo) Create(tx repository.Tx, dev domain.Device) error {
	btx, err := unwrap(tx)
	if err != nil {
		return err
	}
	b := btx.Bucket(bucketDevices)
	key := []byte(dev.MACAddress.String())
	if b.Get(key) != nil {
		return repository.ErrUniqueViolation
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	return nil
}

func (r *DevicesRepo) Update(tx repository.Tx, dev domain.Device) error {
	btx, err := unwrap(tx)
	if err != nil {
		return err
	}
	b := btx.Bucket(bucketDevices)
	key := []byte(dev.MACAddress.String())
	if b.Get(key) == nil {
		return repository.ErrNotFound
	}
	data, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnknown, err)
	}
	return nil
}
