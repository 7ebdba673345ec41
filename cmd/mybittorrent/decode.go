package main

import (
	"encoding/json"
	"fmt"

	"github.com/corvidlabs/gobittorrent/internal/bencode"
)

func runDecode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: decode <bencoded value>")
	}
	decoded, err := bencode.DecodeOne([]byte(args[0]))
	if err != nil {
		return err
	}
	out, err := json.Marshal(bencode.ToJSONValue(decoded))
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
