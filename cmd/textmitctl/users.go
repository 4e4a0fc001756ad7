package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/textmit/textmit/internal/model"
)

func init() {
	usersCmd := &cobra.Command{Use: "users", Short: "User operations"}

	// add
	var phone, key string
	var verified bool
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a phone number",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" || key == "" {
				return fmt.Errorf("--phone and --key required")
			}
			if len(key) != 4 {
				return fmt.Errorf("--key must be 4 digits")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			u, err := st.Users().Create(context.Background(), &model.User{
				UserID:        uuid.New().String(),
				Phone:         phone,
				SMSKey:        key,
				PhoneVerified: verified,
			})
			if err != nil {
				return err
			}
			return printJSON(u)
		},
	}
	addCmd.Flags().StringVarP(&phone, "phone", "p", "", "Phone number in E.164 form (required)")
	addCmd.Flags().StringVarP(&key, "key", "k", "", "4-digit SMS key (required)")
	addCmd.Flags().BoolVar(&verified, "verified", false, "Mark the phone number verified")
	_ = addCmd.MarkFlagRequired("phone")
	_ = addCmd.MarkFlagRequired("key")
	usersCmd.AddCommand(addCmd)

	// get
	getCmd := &cobra.Command{
		Use:   "get PHONE",
		Short: "Look up a user by phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			u, err := st.Users().GetByPhone(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(u)
		},
	}
	usersCmd.AddCommand(getCmd)

	rootCmd.AddCommand(usersCmd)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
