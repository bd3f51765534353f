package codec

// Marshal packs v into a freshly sized buffer using c, the way every
// collective and RPC call site needs a single []byte to hand to the
// communication substrate.
func Marshal(c Codec, v interface{}) ([]byte, error) {
	size, err := c.PackSize(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := c.Write(buf, 0, v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes buf into v (a pointer) using c.
func Unmarshal(c Codec, buf []byte, v interface{}) error {
	_, err := c.Read(buf, 0, v)
	return err
}
