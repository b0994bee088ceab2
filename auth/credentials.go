package auth

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"github.com/taskmaster-app/tmsync/common"
	"golang.org/x/term"
)

// GetCredentials reads username, password and server from v, prompting on
// the terminal for a missing username or password.
func GetCredentials(v *viper.Viper, inServer string) (username, password, apiServer string, err error) {
	if v == nil {
		v = viper.GetViper()
	}

	switch {
	case v.GetString("username") != "":
		username = v.GetString("username")
	default:
		fmt.Print("username: ")

		_, err = fmt.Scanln(&username)
		if err != nil || len(strings.TrimSpace(username)) == 0 {
			return "", "", "", fmt.Errorf("username required")
		}
	}

	if v.GetString("password") != "" {
		password = v.GetString("password")
	} else {
		fmt.Print("password: ")

		var bytePassword []byte

		bytePassword, err = term.ReadPassword(int(syscall.Stdin))

		fmt.Println()

		if err != nil {
			return "", "", "", err
		}

		password = string(bytePassword)

		if strings.TrimSpace(password) == "" {
			return "", "", "", fmt.Errorf("password not defined")
		}
	}

	switch {
	case inServer != "":
		apiServer = inServer
	case v.GetString("api_url") != "":
		apiServer = v.GetString("api_url")
	default:
		apiServer = common.APIServer
	}

	return username, password, apiServer, nil
}
