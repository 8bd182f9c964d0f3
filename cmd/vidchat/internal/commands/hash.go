package commands

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type HashPasswordCmd struct {
	Password string `arg:"" help:"Plain-text password to hash."`
	Cost     int    `help:"bcrypt cost." default:"10"`
}

func (c *HashPasswordCmd) Run() error {
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), c.Cost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
