package transport

import "net"

func dialTCP(network, address string) (rawConn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
