package cmd

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DeLi-Labs/deli-app/pkg/cipher"
	"github.com/DeLi-Labs/deli-app/pkg/config"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/storage"
)

const (
	flagName        = "name"
	flagDescription = "description"
	flagFileType    = "file-type"
	flagChain       = "chain"
	flagPlain       = "plain"
)

type sealOutput struct {
	indexer.Attachment
	ResourceID string `json:"resourceId,omitempty"`
}

func sealCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seal [file]",
		Short: "Encrypt a file with the local cipher, store it and print its attachment record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, "console")
			if err != nil {
				return err
			}

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString(flagName)
			if name == "" {
				name = filepath.Base(path)
			}
			description, _ := cmd.Flags().GetString(flagDescription)
			fileType, _ := cmd.Flags().GetString(flagFileType)
			if fileType == "" {
				fileType = mime.TypeByExtension(filepath.Ext(path))
			}
			if fileType == "" {
				fileType = "application/octet-stream"
			}
			plain, _ := cmd.Flags().GetBool(flagPlain)
			chainName, _ := cmd.Flags().GetString(flagChain)

			store, _, closer, err := buildStorage(cfg, logger)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer()
			}

			out := sealOutput{Attachment: indexer.Attachment{
				Name:          name,
				Type:          indexer.AttachmentPlain,
				Description:   description,
				FileType:      fileType,
				FileSizeBytes: uint64(len(data)),
			}}
			payload, contentType := data, fileType
			if !plain {
				local, err := cipher.NewLocalFromHex(cfg.LocalCipherSecret, nil, logger)
				if err != nil {
					return err
				}
				ed, err := local.Encrypt(cmd.Context(), data, cipher.EncryptOptions{
					Chain:    chainName,
					Metadata: map[string]interface{}{"fileType": fileType, "name": name},
				})
				if err != nil {
					return fmt.Errorf("encrypt %s: %w", path, err)
				}
				if out.ResourceID, err = local.ResourceID(ed); err != nil {
					return err
				}
				if payload, err = ed.Serialize(); err != nil {
					return err
				}
				contentType = "text/plain"
				out.Type = indexer.AttachmentEncrypted
			}

			res, err := store.Store(cmd.Context(), payload, storage.StoreOptions{ContentType: contentType})
			if err != nil {
				return fmt.Errorf("store %s: %w", path, err)
			}
			out.URI = res.URI

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String(flagName, "", "attachment name (default: file name)")
	cmd.Flags().String(flagDescription, "", "attachment description")
	cmd.Flags().String(flagFileType, "", "MIME type (default: guessed from the extension)")
	cmd.Flags().String(flagChain, "", "chain the access conditions are evaluated on (default: ethereum)")
	cmd.Flags().Bool(flagPlain, false, "store the file unencrypted as a PLAIN attachment")
	return cmd
}
