package log

import "fmt"

type token struct {
	key, value string
	inside     rune // shows whether it's inside a given collection, currently [ means array
}

// tokenize splits a `key=value,key=[v1,v2]` configuration line.
func tokenize(line string) ([]token, error) {
	var (
		tokens []token
		start  int
		key    string
		inKey  = true
	)

	for i := 0; i <= len(line); i++ {
		if inKey {
			if i == len(line) || line[i] == ',' {
				tokens = append(tokens, token{key: line[start:i]})
				start = i + 1
				continue
			}
			if line[i] == '=' {
				key = line[start:i]
				start = i + 1
				inKey = false
			}
			continue
		}

		if i < len(line) && line[i] == '[' && i == start {
			end := i + 1
			for end < len(line) && line[end] != ']' {
				end++
			}
			if end == len(line) {
				return nil, fmt.Errorf("array value for key `%s` didn't end", key)
			}
			tokens = append(tokens, token{key: key, value: line[i+1 : end], inside: '['})
			i = end + 1
			if i < len(line) && line[i] != ',' {
				return nil, fmt.Errorf("there was no ',' after an array with key '%s'", key)
			}
			start = i + 1
			inKey = true
			continue
		}

		if i == len(line) || line[i] == ',' {
			if i == start {
				return nil, fmt.Errorf("key `%s=` with no value", key)
			}
			tokens = append(tokens, token{key: key, value: line[start:i]})
			start = i + 1
			inKey = true
		}
	}

	return tokens, nil
}
