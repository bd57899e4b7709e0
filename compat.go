package pagecodec

// Classic entry-point names, kept as thin forwards for embedders porting
// from the C-style codec API. No second layer of types: each alias calls
// the canonical method directly.

// Key keys the main database. Equivalent to CodecAttach(0, key).
func (conn *Connection) Key(key []byte) error {
	return conn.CodecAttach(0, key)
}

// KeyV2 keys the database attached at dbIndex.
func (conn *Connection) KeyV2(dbIndex int, key []byte) error {
	return conn.CodecAttach(dbIndex, key)
}

// Rekey begins a key change on the main database.
func (conn *Connection) Rekey(key []byte, pageSize, reserved int) (*RekeyOperation, error) {
	return conn.RekeyBegin(0, key, pageSize, reserved)
}

// RekeyV2 begins a key change on the database attached at dbIndex.
func (conn *Connection) RekeyV2(dbIndex int, key []byte, pageSize, reserved int) (*RekeyOperation, error) {
	return conn.RekeyBegin(dbIndex, key, pageSize, reserved)
}
