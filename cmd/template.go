package main

import (
	"github.com/rmohr/appbuild/pkg/template"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type templateOpts struct {
	set map[string]string
}

var templateopts = templateOpts{}

func NewTemplateCmd() *cobra.Command {

	templateCmd := &cobra.Command{
		Use:   "template DESTINATION SOURCE",
		Short: "Render a single template with the build's template data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			data := c.TemplateData()
			for k, v := range templateopts.set {
				data[k] = v
			}
			logrus.Infof("Writing '%s' ...", args[0])
			return template.Write(args[0], args[1], data)
		},
	}

	templateCmd.Flags().StringToStringVar(&templateopts.set, "set", map[string]string{}, "additional or overridden template values (--set name=value)")
	return templateCmd
}
