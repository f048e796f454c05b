// Command rostool inspects a running ROS graph through a rosbridge
// server: topics, services, message and service types, and the
// parameter server.
//
// Usage:
//
//	rostool [--host HOST] [--port PORT] topic list|type|find ...
//	rostool [--host HOST] [--port PORT] service list|type|find ...
//	rostool [--host HOST] [--port PORT] msg info TYPE
//	rostool [--host HOST] [--port PORT] srv info TYPE
//	rostool [--host HOST] [--port PORT] param list|get|set|delete ...
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/edwinhayes/rosbridge/ros"
)

var heading = color.New(color.FgCyan, color.Bold)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("rostool", flag.ContinueOnError)
	host := flags.String("host", "localhost", "rosbridge host name or IP address")
	port := flags.Int("port", 9090, "rosbridge port")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	rest := flags.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "usage: rostool [--host HOST] [--port PORT] <command> <subcommand> [args]")
		return 1
	}

	session := ros.NewRos(ros.Config{Host: *host, Port: *port, MaxRetries: 1})
	if err := session.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rostool: %v\n", err)
		return 1
	}
	defer session.Close()

	if err := dispatch(session, rest[0], rest[1], rest[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "rostool: %v\n", err)
		return 1
	}
	return 0
}

func dispatch(session *ros.Ros, command, subcommand string, args []string) error {
	switch command + " " + subcommand {
	case "topic list":
		return printList(session.GetTopics())
	case "topic type":
		if len(args) != 1 {
			return errors.New("usage: rostool topic type TOPIC")
		}
		return printString(session.GetTopicType(args[0]))
	case "topic find":
		if len(args) != 1 {
			return errors.New("usage: rostool topic find TYPE")
		}
		return printList(session.GetTopicsForType(args[0]))
	case "service list":
		return printList(session.GetServices())
	case "service type":
		if len(args) != 1 {
			return errors.New("usage: rostool service type SERVICE")
		}
		return printString(session.GetServiceType(args[0]))
	case "service find":
		if len(args) != 1 {
			return errors.New("usage: rostool service find TYPE")
		}
		return printList(session.GetServicesForType(args[0]))
	case "msg info":
		if len(args) != 1 {
			return errors.New("usage: rostool msg info TYPE")
		}
		details, err := session.GetMessageDetails(args[0])
		if err != nil {
			return err
		}
		printTypedefs(details)
		return nil
	case "srv info":
		if len(args) != 1 {
			return errors.New("usage: rostool srv info TYPE")
		}
		request, err := session.GetServiceRequestDetails(args[0])
		if err != nil {
			return err
		}
		response, err := session.GetServiceResponseDetails(args[0])
		if err != nil {
			return err
		}
		printTypedefs(request)
		fmt.Println("---")
		printTypedefs(response)
		return nil
	case "param list":
		return printList(session.GetParams())
	case "param get":
		if len(args) != 1 {
			return errors.New("usage: rostool param get PARAM")
		}
		value, err := session.GetParam(args[0])
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	case "param set":
		if len(args) != 2 {
			return errors.New("usage: rostool param set PARAM VALUE")
		}
		var value interface{}
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			return errors.Wrapf(err, "param value %q is not valid JSON", args[1])
		}
		return session.SetParam(args[0], value)
	case "param delete":
		if len(args) != 1 {
			return errors.New("usage: rostool param delete PARAM")
		}
		return session.DeleteParam(args[0])
	}
	return errors.Errorf("unknown command %q", command+" "+subcommand)
}

func printString(value string, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func printList(values []string, err error) error {
	if err != nil {
		return err
	}
	for _, value := range values {
		fmt.Println(value)
	}
	return nil
}

// printTypedefs renders a rosapi typedef response the way rosmsg
// does: one line per field, nested types indented below their field.
func printTypedefs(details ros.Message) {
	defs, ok := details["typedefs"].([]interface{})
	if !ok || len(defs) == 0 {
		return
	}

	defMap := make(map[string]ros.Message, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		obj, ok := def.(map[string]interface{})
		if !ok {
			continue
		}
		typedef := ros.Message(obj)
		defMap[typedef.String("type")] = typedef
		order = append(order, typedef.String("type"))
	}
	if len(order) == 0 {
		return
	}
	printTypedef(order[0], defMap, 0)
}

func printTypedef(typeName string, defMap map[string]ros.Message, level int) {
	typedef, ok := defMap[typeName]
	if !ok {
		return
	}

	names := stringItems(typedef["fieldnames"])
	types := stringItems(typedef["fieldtypes"])
	lengths, _ := typedef["fieldarraylen"].([]interface{})

	for i := range names {
		if i >= len(types) {
			break
		}
		fieldType := types[i]
		info := fieldType
		if i < len(lengths) {
			if length, ok := lengths[i].(float64); ok {
				if length == 0 {
					info = fieldType + "[]"
				} else if length > 0 {
					info = fmt.Sprintf("%s[%d]", fieldType, int(length))
				}
			}
		}

		indent := strings.Repeat("  ", level)
		if level == 0 {
			fmt.Printf("%s%s %s\n", indent, heading.Sprint(info), names[i])
		} else {
			fmt.Printf("%s%s %s\n", indent, info, names[i])
		}
		if _, nested := defMap[fieldType]; nested {
			printTypedef(fieldType, defMap, level+1)
		}
	}
}

func stringItems(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}
