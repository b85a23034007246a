package decoder

import "io"

// ReadBytes reads exactly n bytes from r. A stream that ends early yields io.EOF
// when nothing was read and io.ErrUnexpectedEOF otherwise.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	result := make([]byte, n)
	readed := 0
	for readed < n {
		count, err := r.Read(result[readed:])
		readed += count
		if err != nil {
			if readed == n {
				break
			}
			if err == io.EOF && readed > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return result, nil
}
