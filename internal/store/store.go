package store

// Store is a bucketed key-value store for simulation results.
// Append adds a value under the bucket's next sequence number, so ForEach
// visits appended values in insertion order. DeleteBucket removes a bucket
// and everything in it, including its sequence; a missing bucket is not an
// error.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key, value []byte) error
	Append(bucket, value []byte) (uint64, error)
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	Count(bucket []byte) (int, error)
	DeleteBucket(bucket []byte) error
	Close() error
}
