package tradeconfig

import "encoding/json"

func marshalSymbols(symbols []string) (string, error) {
	if symbols == nil {
		symbols = []string{}
	}
	b, err := json.Marshal(symbols)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalSymbols(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var symbols []string
	if err := json.Unmarshal([]byte(raw), &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}
