package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "marketplace.messaging.v1.Messaging"

// MessagingService is the handler contract behind ServiceDesc.
type MessagingService interface {
	StartConversation(context.Context, *StartConversationRequest) (*StartConversationResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	MarkRead(context.Context, *ConversationRequest) (*MarkReadResponse, error)
	MarkUnread(context.Context, *ConversationRequest) (*Empty, error)
	DeleteConversation(context.Context, *ConversationRequest) (*DeleteConversationResponse, error)
	ToggleArchive(context.Context, *ConversationRequest) (*ToggleArchiveResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	GetConversation(context.Context, *ConversationRequest) (*GetConversationResponse, error)
	UnreadCounts(context.Context, *UserRequest) (*UnreadCountsResponse, error)
	ListingLiked(context.Context, *LikeRequest) (*ListingLikedResponse, error)
	ListingUnliked(context.Context, *LikeRequest) (*ListingUnlikedResponse, error)
	ListNotifications(context.Context, *ListNotificationsRequest) (*ListNotificationsResponse, error)
	MarkNotificationRead(context.Context, *MarkNotificationReadRequest) (*Empty, error)
	MarkAllNotificationsRead(context.Context, *UserRequest) (*MarkReadResponse, error)
}

var _ MessagingService = (*MessagingServer)(nil)

// FullMethod returns the invoke path of a method on the messaging service.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(MessagingService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MessagingService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MessagingService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingService)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartConversation", MessagingService.StartConversation),
		unary("SendMessage", MessagingService.SendMessage),
		unary("ListMessages", MessagingService.ListMessages),
		unary("MarkRead", MessagingService.MarkRead),
		unary("MarkUnread", MessagingService.MarkUnread),
		unary("DeleteConversation", MessagingService.DeleteConversation),
		unary("ToggleArchive", MessagingService.ToggleArchive),
		unary("ListConversations", MessagingService.ListConversations),
		unary("GetConversation", MessagingService.GetConversation),
		unary("UnreadCounts", MessagingService.UnreadCounts),
		unary("ListingLiked", MessagingService.ListingLiked),
		unary("ListingUnliked", MessagingService.ListingUnliked),
		unary("ListNotifications", MessagingService.ListNotifications),
		unary("MarkNotificationRead", MessagingService.MarkNotificationRead),
		unary("MarkAllNotificationsRead", MessagingService.MarkAllNotificationsRead),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/messaging/v1/messaging.json",
}

// Register mounts the messaging service on s.
func Register(s *grpc.Server, srv MessagingService) {
	s.RegisterService(&ServiceDesc, srv)
}

// Invoke calls a messaging method over cc with the JSON codec.
func Invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	if err := cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
